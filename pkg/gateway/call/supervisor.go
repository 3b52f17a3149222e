// Package call bridges one telephony websocket to one model session.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-phone/pkg/core/audio"
	"github.com/vango-go/vai-phone/pkg/core/model"
	"github.com/vango-go/vai-phone/pkg/core/phone"
	"github.com/vango-go/vai-phone/pkg/core/tenant"
	"github.com/vango-go/vai-phone/pkg/core/tools"
	"github.com/vango-go/vai-phone/pkg/gateway/calltracker"
	"github.com/vango-go/vai-phone/pkg/gateway/metrics"
)

// Call outcomes, used as the calls_total label.
const (
	OutcomeCompleted      = "completed"
	OutcomeModelClosed    = "model_closed"
	OutcomeModelFailed    = "model_failed"
	OutcomeTransportError = "transport_error"
	OutcomeMaxDuration    = "max_duration"
	OutcomeCanceled       = "canceled"
	OutcomeFormatError    = "format_error"
	OutcomeAgentDisabled  = "agent_disabled"
	OutcomeRejected       = "rejected"
	OutcomeHandshake      = "handshake_failed"
)

// Socket is the telephony websocket; *websocket.Conn satisfies it.
type Socket interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// Resolver resolves the dialed number; *tenant.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, destination string) (tenant.Context, error)
}

// Dispatcher runs tool invocations; *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cc tools.CallContext, inv tools.Invocation) tools.Ack
}

type Config struct {
	TransportFormat   audio.Format
	ModelInputFormat  audio.Format
	ModelOutputFormat audio.Format
	RemoveDC          bool

	// FrameBytes is one outbound telephony frame; InboundChunkBytes is the
	// batch of caller audio per model send.
	FrameBytes        int
	InboundChunkBytes int
	OutboundQueue     int

	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxCallDuration time.Duration

	Model       string
	Region      string
	ModelConfig model.Config
}

type Dependencies struct {
	Resolver   Resolver
	Transport  model.Transport
	Dispatcher Dispatcher
	Tracker    *calltracker.Tracker
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Params identifies the call parties as received from the telephony side.
type Params struct {
	ID   string
	To   string
	From string
}

// Supervisor runs calls. One Supervisor serves every call of the process.
type Supervisor struct {
	cfg  Config
	deps Dependencies
}

func NewSupervisor(cfg Config, deps Dependencies) *Supervisor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracker == nil {
		deps.Tracker = calltracker.NewTracker(0)
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 64
	}
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = 30 * time.Minute
	}
	if cfg.ModelConfig.Logger == nil {
		cfg.ModelConfig.Logger = deps.Logger
	}
	return &Supervisor{cfg: cfg, deps: deps}
}

// Run bridges ws until either leg ends, then tears the call down. It always
// closes ws. A nil error means the call ended normally or was refused cleanly.
func (s *Supervisor) Run(ctx context.Context, ws Socket, p Params) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	logger := s.deps.Logger.With("call_id", p.ID, "to", p.To, "from", p.From)

	tctx, err := s.deps.Resolver.Resolve(ctx, p.To)
	if err != nil {
		if errors.Is(err, tenant.ErrAgentDisabled) {
			logger.Info("agent disabled, closing call")
			s.refuse(ws, websocket.CloseNormalClosure, "agent disabled")
			s.deps.Metrics.RecordCallRejected(OutcomeAgentDisabled)
			return nil
		}
		s.refuse(ws, websocket.CloseInternalServerErr, "")
		return err
	}

	tenantKey := ""
	if id := tctx.TenantID(); id != nil {
		tenantKey = strconv.FormatInt(*id, 10)
		logger = logger.With("tenant_id", *id)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxCallDuration)
	defer cancel()

	unregister, err := s.deps.Tracker.Register(p.ID, calltracker.Handle{Tenant: tenantKey, Cancel: cancel})
	if err != nil {
		logger.Info("call refused", "error", err)
		s.refuse(ws, websocket.CloseTryAgainLater, err.Error())
		s.deps.Metrics.RecordCallRejected(OutcomeRejected)
		return nil
	}
	defer unregister()

	c, err := s.newSession(callCtx, cancel, ws, p, tctx, logger)
	if err != nil {
		s.refuse(ws, websocket.CloseInternalServerErr, "")
		s.deps.Metrics.RecordCallRejected(OutcomeFormatError)
		return err
	}

	mgr := model.NewManager(s.deps.Transport, s.cfg.ModelConfig)
	err = mgr.Open(callCtx, model.SessionConfig{
		Model:             s.cfg.Model,
		SystemInstruction: tctx.SystemInstruction,
		Voice:             tctx.Voice,
		Tools:             tools.Declarations(),
		InputFormat:       s.cfg.ModelInputFormat,
	}, tctx.Greeting)
	if err != nil {
		logger.Error("model session open failed", "error", err)
		s.refuse(ws, websocket.CloseInternalServerErr, "")
		s.deps.Metrics.RecordCallRejected(OutcomeHandshake)
		return err
	}
	c.mgr = mgr

	s.deps.Metrics.RecordCallStart()
	start := time.Now()
	logger.Info("call bridged")

	runErr := c.run()

	outcome := c.outcome()
	s.deps.Metrics.RecordDroppedFrames(metrics.DirectionInbound, mgr.DroppedAudio())
	s.deps.Metrics.RecordDroppedFrames(metrics.DirectionOutbound, c.outboundDropped.Load())
	s.deps.Metrics.RecordCallEnd(outcome, time.Since(start))
	logger.Info("call ended", "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
	return runErr
}

func (s *Supervisor) refuse(ws Socket, code int, reason string) {
	deadline := time.Now().Add(s.writeTimeout())
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

func (s *Supervisor) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 5 * time.Second
}

func (s *Supervisor) newSession(ctx context.Context, cancel context.CancelFunc, ws Socket, p Params, tctx tenant.Context, logger *slog.Logger) (*session, error) {
	in, err := audio.NewConverter(audio.Conversion{From: s.cfg.TransportFormat, To: s.cfg.ModelInputFormat, RemoveDC: s.cfg.RemoveDC})
	if err != nil {
		return nil, fmt.Errorf("inbound converter: %w", err)
	}
	out, err := audio.NewConverter(audio.Conversion{From: s.cfg.ModelOutputFormat, To: s.cfg.TransportFormat})
	if err != nil {
		return nil, fmt.Errorf("outbound converter: %w", err)
	}
	frameBytes := s.cfg.FrameBytes
	if frameBytes <= 0 {
		frameBytes = s.cfg.TransportFormat.BytesForDurationMs(20)
	}
	chunkBytes := s.cfg.InboundChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = frameBytes * 2
	}

	return &session{
		sup:     s,
		ctx:     ctx,
		cancel:  cancel,
		ws:      ws,
		logger:  logger,
		inConv:  in,
		outConv: out,
		inBuf:   audio.NewFrameBuffer(chunkBytes),
		outBuf:  audio.NewFrameBuffer(frameBytes),
		inbound: make(chan []byte, 16),
		frames:  make(chan []byte, s.cfg.OutboundQueue),
		callCtx: tools.CallContext{
			CallID:       p.ID,
			CallerPhone:  phone.Normalize(p.From, s.cfg.Region),
			CompanyID:    tctx.TenantID(),
			CompanyPhone: tctx.Destination,
		},
	}, nil
}

// session is the per-call state. Converters and frame buffers are owned by
// exactly one pump goroutine each.
type session struct {
	sup    *Supervisor
	ctx    context.Context
	cancel context.CancelFunc
	ws     Socket
	mgr    *model.Manager
	logger *slog.Logger

	inConv  *audio.Converter
	outConv *audio.Converter
	inBuf   *audio.FrameBuffer
	outBuf  *audio.FrameBuffer

	inbound chan []byte
	frames  chan []byte
	callCtx tools.CallContext

	finishOnce sync.Once
	reason     string
	fatal      error

	teardownOnce    sync.Once
	outboundDropped atomic.Int64
}

// finish records the first reason the call ends and cancels it.
func (c *session) finish(reason string, err error) {
	c.finishOnce.Do(func() {
		c.reason = reason
		c.fatal = err
	})
	c.cancel()
}

func (c *session) outcome() string {
	c.finishOnce.Do(func() {})
	if c.reason == "" {
		return OutcomeCanceled
	}
	return c.reason
}

func (c *session) run() error {
	var wg sync.WaitGroup
	writerDone := make(chan struct{})

	wg.Add(4)
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.inboundPump()
	}()
	go func() {
		defer wg.Done()
		c.outboundPump()
	}()
	go func() {
		defer wg.Done()
		defer close(writerDone)
		w := &outboundWriter{
			ws:           c.ws,
			ctx:          c.ctx,
			frames:       c.frames,
			pingInterval: c.sup.cfg.PingInterval,
			writeTimeout: c.sup.cfg.WriteTimeout,
			onWrite: func(n int) {
				c.sup.deps.Metrics.RecordAudio(metrics.DirectionOutbound, n)
			},
		}
		if err := w.Run(); err != nil && c.ctx.Err() == nil {
			c.logger.Info("socket write failed", "error", err)
			c.finish(OutcomeTransportError, nil)
		}
	}()

	<-c.ctx.Done()
	c.finish(c.deadlineReason(), nil)
	c.teardown(writerDone)
	wg.Wait()
	return c.fatal
}

func (c *session) deadlineReason() string {
	if errors.Is(c.ctx.Err(), context.DeadlineExceeded) {
		return OutcomeMaxDuration
	}
	return OutcomeCanceled
}

// teardown releases both legs exactly once. Closing the model connection
// ends Events; the writer sends the close frame and closes the socket, which
// unblocks the reader.
func (c *session) teardown(writerDone <-chan struct{}) {
	c.teardownOnce.Do(func() {
		if err := c.mgr.Close(); err != nil {
			c.logger.Debug("model close", "error", err)
		}
		select {
		case <-writerDone:
		case <-time.After(c.sup.writeTimeout()):
		}
		_ = c.ws.Close()
	})
}

func (c *session) readLoop() {
	defer close(c.inbound)
	readTimeout := c.sup.cfg.ReadTimeout
	for {
		if readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		}
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Info("caller hung up")
				c.finish(OutcomeCompleted, nil)
				return
			}
			c.logger.Info("socket read ended", "error", err)
			c.finish(OutcomeTransportError, nil)
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			select {
			case c.inbound <- data:
			case <-c.ctx.Done():
				return
			}
		case websocket.TextMessage:
			c.logger.Debug("telephony control message", "payload", string(data))
		}
	}
}

func (c *session) inboundPump() {
	for data := range c.inbound {
		c.sup.deps.Metrics.RecordAudio(metrics.DirectionInbound, len(data))
		for _, chunk := range c.inBuf.Push(data) {
			pcm, err := c.inConv.Convert(chunk)
			if err != nil {
				c.logger.Error("inbound audio conversion failed", "error", err)
				c.finish(OutcomeFormatError, err)
				return
			}
			if err := c.mgr.SendAudio(pcm); err != nil {
				return
			}
		}
	}
}

func (c *session) outboundPump() {
	for ev := range c.mgr.Events() {
		switch e := ev.(type) {
		case *model.AudioEvent:
			pcm, err := c.outConv.Convert(e.PCM)
			if err != nil {
				c.logger.Error("outbound audio conversion failed", "error", err)
				c.finish(OutcomeFormatError, err)
				return
			}
			for _, frame := range c.outBuf.Push(pcm) {
				c.enqueue(frame)
			}
		case *model.ToolCallEvent:
			c.handleToolCall(e.Invocation)
		case *model.InterruptedEvent:
			c.outBuf.Reset()
			c.dropQueued()
		case *model.TurnCompleteEvent:
			if frame := c.outBuf.FlushPadded(); frame != nil {
				c.enqueue(frame)
			}
		case *model.ToolCancelEvent:
			c.logger.Info("model cancelled tool calls", "ids", e.IDs)
		case *model.GoAwayEvent:
			c.logger.Info("model session ending soon", "time_left", e.TimeLeft)
		}
	}

	if err := c.mgr.Err(); err != nil {
		c.finish(OutcomeModelFailed, err)
		return
	}
	if c.ctx.Err() != nil {
		c.finish(c.deadlineReason(), nil)
		return
	}
	c.finish(OutcomeModelClosed, nil)
}

func (c *session) handleToolCall(inv tools.Invocation) {
	ack := c.sup.deps.Dispatcher.Dispatch(c.ctx, c.callCtx, inv)
	c.logger.Info("tool call handled", "tool", inv.Name, "tool_call_id", inv.ID, "status", ack.Status, "code", ack.Code)
	if err := c.mgr.SendToolAck(c.ctx, ack); err != nil && c.ctx.Err() == nil {
		c.logger.Warn("tool ack not sent", "tool_call_id", inv.ID, "error", err)
	}
}

// enqueue never blocks the outbound pump; frames are dropped when the writer
// falls behind.
func (c *session) enqueue(frame []byte) {
	select {
	case c.frames <- frame:
	default:
		c.outboundDropped.Add(1)
	}
}

func (c *session) dropQueued() {
	for {
		select {
		case <-c.frames:
		default:
			return
		}
	}
}
