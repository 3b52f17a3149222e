package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"

	"github.com/vango-go/vai-phone/pkg/core/model"
	"github.com/vango-go/vai-phone/pkg/core/providers/gemini"
	"github.com/vango-go/vai-phone/pkg/core/tenant"
	"github.com/vango-go/vai-phone/pkg/core/tools"
	"github.com/vango-go/vai-phone/pkg/gateway/call"
	"github.com/vango-go/vai-phone/pkg/gateway/calltracker"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-phone/pkg/gateway/server"
	"github.com/vango-go/vai-phone/pkg/gateway/streamtoken"
	"github.com/vango-go/vai-phone/pkg/notify"
	"github.com/vango-go/vai-phone/pkg/store/memory"
	"github.com/vango-go/vai-phone/pkg/store/postgres"
)

// store is everything the gateway needs from persistence.
type store interface {
	tenant.Store
	tools.Store
	notify.SubscriptionStore
}

// app is the wired gateway for one process.
type app struct {
	handler    http.Handler
	tracker    *calltracker.Tracker
	dispatcher *tools.Dispatcher
	close      func()
}

func newGeminiTransport(ctx context.Context, cfg config.Config) (model.Transport, error) {
	return gemini.NewTransport(ctx, gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Backend:  gemini.Backend(cfg.GeminiBackend),
		Project:  cfg.GoogleCloudProject,
		Location: cfg.GoogleCloudLocation,
		Model:    cfg.Model,
	})
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; records are lost on exit")
		return memory.New(), func() {}, nil
	default:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.DBAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		return pg, pg.Close, nil
	}
}

func buildNotifier(ctx context.Context, cfg config.Config, subs notify.SubscriptionStore, logger *slog.Logger) (notify.Notifier, error) {
	var out notify.Multi
	if cfg.VAPIDPublicKey != "" {
		out = append(out, &notify.WebPushNotifier{
			Store:           subs,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subject:         cfg.VAPIDSubject,
			Logger:          logger,
		})
	}
	if cfg.SNSTopicARN != "" {
		sns, err := notify.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			return nil, fmt.Errorf("sns notifier: %w", err)
		}
		out = append(out, sns)
	}
	if len(out) == 0 {
		logger.Info("no notification channel configured")
		return notify.Nop{}, nil
	}
	return out, nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, newTransport func(context.Context, config.Config) (model.Transport, error)) (*app, error) {
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("model transport: %w", err)
	}

	notifier, err := buildNotifier(ctx, cfg, st, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	m := metrics.NewMetrics(metrics.DefaultNamespace)
	dispatcher, err := tools.NewDispatcher(tools.Dependencies{
		Store:         st,
		Notifier:      notifier,
		Logger:        logger,
		Tracer:        otel.Tracer("github.com/vango-go/vai-phone/tools"),
		Metrics:       m,
		NotifyTimeout: cfg.NotifyTimeout,
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("tool dispatcher: %w", err)
	}

	prompts := tenant.DefaultPrompts()
	prompts.Voice = cfg.DefaultVoice
	resolver := &tenant.Resolver{
		Store:   st,
		Prompts: prompts,
		Region:  cfg.DefaultRegion,
		Logger:  logger,
	}

	tracker := calltracker.NewTracker(cfg.MaxCallsPerTenant)
	supervisor := call.NewSupervisor(call.Config{
		TransportFormat:   cfg.TransportFormat(),
		ModelInputFormat:  cfg.ModelInputFormat(),
		ModelOutputFormat: cfg.ModelOutputFormat(),
		RemoveDC:          cfg.RemoveDC,
		FrameBytes:        cfg.TransportFrameBytes(),
		InboundChunkBytes: cfg.InboundChunkBytes(),
		OutboundQueue:     cfg.OutboundQueue,
		PingInterval:      cfg.WSPingInterval,
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadTimeout:       cfg.WSReadTimeout,
		MaxCallDuration:   cfg.MaxCallDuration,
		Model:             cfg.Model,
		Region:            cfg.DefaultRegion,
		ModelConfig: model.Config{
			AudioQueueDepth:  cfg.ModelAudioQueue,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Logger:           logger,
		},
	}, call.Dependencies{
		Resolver:   resolver,
		Transport:  transport,
		Dispatcher: dispatcher,
		Tracker:    tracker,
		Metrics:    m,
		Logger:     logger,
	})

	srv := gatewayserver.New(cfg, gatewayserver.Dependencies{
		Calls:   supervisor,
		Signer:  streamtoken.NewSigner(cfg.StreamTokenSecret, cfg.StreamTokenTTL),
		Tracker: tracker,
		Metrics: m,
		Logger:  logger,
	})

	return &app{
		handler:    srv.Handler(),
		tracker:    tracker,
		dispatcher: dispatcher,
		close:      closeStore,
	}, nil
}
