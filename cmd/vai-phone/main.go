package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vango-go/vai-phone/internal/dotenv"
	"github.com/vango-go/vai-phone/pkg/core/model"
	"github.com/vango-go/vai-phone/pkg/gateway/config"
)

type phoneDeps struct {
	loadConfig   func() (config.Config, error)
	newTransport func(context.Context, config.Config) (model.Transport, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultPhoneDeps() phoneDeps {
	return phoneDeps{
		loadConfig:   config.LoadFromEnv,
		newTransport: newGeminiTransport,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runPhone(ctx context.Context, logger *slog.Logger, deps phoneDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newTransport == nil {
		return errors.New("missing newTransport dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := buildApp(ctx, cfg, logger, deps.newTransport)
	if err != nil {
		return err
	}
	defer a.close()

	httpSrv := buildHTTPServer(cfg, a.handler)
	logger.Info("starting phone gateway",
		"addr", cfg.Addr,
		"store", cfg.Store,
		"model_backend", cfg.GeminiBackend,
		"model", cfg.Model,
		"transport_rate", cfg.TransportSampleRate,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested", "reason", ctx.Err())
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	a.tracker.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Websocket calls are hijacked and outlive Shutdown.
	logger.Info("waiting for active calls", "active_calls", a.tracker.Count())
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !a.tracker.Wait(waitCtx) {
		n := a.tracker.CancelAll()
		logger.Warn("grace period elapsed, cancelling calls", "canceled", n)
		forceCtx, forceCancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.tracker.Wait(forceCtx)
		forceCancel()
	}

	notifyCtx, notifyCancel := context.WithTimeout(context.Background(), cfg.NotifyTimeout)
	defer notifyCancel()
	if err := a.dispatcher.Wait(notifyCtx); err != nil {
		logger.Warn("pending notifications abandoned", "error", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("phone gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps phoneDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "vai-phone: %v\n", err)
		return 1
	}

	if err := runPhone(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "vai-phone: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultPhoneDeps()))
}
