package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/tools"
)

var (
	// ErrHandshakeFailed covers connect and greeting failures.
	ErrHandshakeFailed = errors.New("model handshake failed")
	// ErrModelProtocol is a fatal error on an active session.
	ErrModelProtocol = errors.New("model protocol error")
	// ErrNotActive is returned by send methods outside StateActive.
	ErrNotActive = errors.New("model session not active")
	// ErrClosed is returned when the session was closed while opening.
	ErrClosed = errors.New("model session closed")
)

const (
	DefaultAudioQueueDepth          = 8
	DefaultControlQueueDepth        = 4
	DefaultEventBuffer              = 32
	DefaultMaxConsecutiveSendErrors = 5
	DefaultHandshakeTimeout         = 10 * time.Second
)

// Config tunes a Manager. Zero values take the defaults above.
type Config struct {
	AudioQueueDepth          int
	MaxConsecutiveSendErrors int
	HandshakeTimeout         time.Duration
	Logger                   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.AudioQueueDepth <= 0 {
		c.AudioQueueDepth = DefaultAudioQueueDepth
	}
	if c.MaxConsecutiveSendErrors <= 0 {
		c.MaxConsecutiveSendErrors = DefaultMaxConsecutiveSendErrors
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type controlMsg struct {
	tool *ToolResponse
}

// Manager owns one model session for one call.
type Manager struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	err        error
	conn       Conn
	cancel     context.CancelFunc
	cancelOpen context.CancelFunc

	audioQ   chan []byte
	controlQ chan controlMsg
	events   chan Event
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	dropped    atomic.Int64
	sendErrors atomic.Int64
}

func NewManager(transport Transport, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		transport: transport,
		cfg:       cfg,
		logger:    cfg.Logger,
		audioQ:    make(chan []byte, cfg.AudioQueueDepth),
		controlQ:  make(chan controlMsg, DefaultControlQueueDepth),
		events:    make(chan Event, DefaultEventBuffer),
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the failure cause once the session reached StateFailed.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed when the session reaches a terminal state.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Events delivers model events. It is closed when the receiver exits.
func (m *Manager) Events() <-chan Event { return m.events }

// DroppedAudio is the number of audio frames discarded by the drop-oldest
// policy or by transient send errors.
func (m *Manager) DroppedAudio() int64 { return m.dropped.Load() }

// SendErrors is the number of failed audio sends.
func (m *Manager) SendErrors() int64 { return m.sendErrors.Load() }

func (m *Manager) transitionLocked(to State) error {
	if !CanTransition(m.state, to) {
		return &ErrIllegalTransition{From: m.state, To: to}
	}
	m.logger.Debug("model session state", "from", m.state.String(), "to", to.String())
	m.state = to
	if to.Terminal() {
		m.doneOnce.Do(func() { close(m.done) })
	}
	return nil
}

// Open connects, sends the greeting directive, and starts the sender and
// receiver goroutines. ctx bounds the whole session.
func (m *Manager) Open(ctx context.Context, cfg SessionConfig, greeting string) error {
	m.mu.Lock()
	if err := m.transitionLocked(StateConnecting); err != nil {
		m.mu.Unlock()
		return err
	}
	hctx, cancelOpen := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	m.cancelOpen = cancelOpen
	m.mu.Unlock()
	defer cancelOpen()

	conn, err := m.transport.Connect(hctx, cfg)
	if err == nil && greeting != "" {
		if serr := conn.SendText(hctx, greeting); serr != nil {
			_ = conn.Close()
			err = fmt.Errorf("greeting: %w", serr)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosing {
		if conn != nil && err == nil {
			_ = conn.Close()
		}
		_ = m.transitionLocked(StateClosed)
		close(m.events)
		return ErrClosed
	}
	if err != nil {
		m.err = fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		_ = m.transitionLocked(StateFailed)
		close(m.events)
		return m.err
	}

	m.conn = conn
	if err := m.transitionLocked(StateActive); err != nil {
		_ = conn.Close()
		close(m.events)
		return err
	}
	sctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(2)
	go m.sendLoop(sctx, conn)
	go m.receiveLoop(sctx, conn)
	return nil
}

// SendAudio enqueues one frame without blocking. When the queue is full the
// oldest queued frame is dropped.
func (m *Manager) SendAudio(pcm []byte) error {
	if m.State() != StateActive {
		return ErrNotActive
	}
	for {
		select {
		case m.audioQ <- pcm:
			return nil
		default:
		}
		select {
		case <-m.audioQ:
			m.dropped.Add(1)
		default:
		}
	}
}

// SendToolAck enqueues a tool acknowledgement on the priority queue. It
// blocks until the ack is accepted, ctx is done, or the session ends.
func (m *Manager) SendToolAck(ctx context.Context, ack tools.Ack) error {
	if m.State() != StateActive {
		return ErrNotActive
	}
	msg := controlMsg{tool: &ToolResponse{ID: ack.ID, Name: ack.Name, Response: ack.Response()}}
	select {
	case m.controlQ <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrNotActive
	}
}

func (m *Manager) sendLoop(ctx context.Context, conn Conn) {
	defer m.wg.Done()
	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-m.controlQ:
			if err := m.sendControl(ctx, conn, c); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case c := <-m.controlQ:
			if err := m.sendControl(ctx, conn, c); err != nil {
				return
			}
		case pcm := <-m.audioQ:
			if err := conn.SendAudio(ctx, pcm); err != nil {
				if ctx.Err() != nil {
					return
				}
				consecutive++
				m.sendErrors.Add(1)
				m.dropped.Add(1)
				m.logger.Warn("model audio send failed", "error", err, "consecutive", consecutive)
				if consecutive >= m.cfg.MaxConsecutiveSendErrors {
					m.fail(fmt.Errorf("%w: %d consecutive audio send failures: %v", ErrModelProtocol, consecutive, err))
					return
				}
				continue
			}
			consecutive = 0
		}
	}
}

func (m *Manager) sendControl(ctx context.Context, conn Conn, c controlMsg) error {
	if c.tool == nil {
		return nil
	}
	if err := conn.SendToolResponse(ctx, *c.tool); err != nil {
		if ctx.Err() != nil {
			return err
		}
		m.fail(fmt.Errorf("%w: tool response %s: %v", ErrModelProtocol, c.tool.ID, err))
		return err
	}
	return nil
}

func (m *Manager) receiveLoop(ctx context.Context, conn Conn) {
	defer m.wg.Done()
	defer close(m.events)
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || m.closing() {
				return
			}
			m.fail(fmt.Errorf("%w: receive: %v", ErrModelProtocol, err))
			return
		}
		for _, ev := range eventsFor(msg) {
			select {
			case m.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func eventsFor(msg Message) []Event {
	var out []Event
	if len(msg.ToolCancellations) > 0 {
		out = append(out, &ToolCancelEvent{IDs: msg.ToolCancellations})
	}
	if msg.Interrupted {
		out = append(out, &InterruptedEvent{})
	}
	for _, pcm := range msg.Audio {
		if len(pcm) > 0 {
			out = append(out, &AudioEvent{PCM: pcm})
		}
	}
	for _, inv := range msg.ToolCalls {
		out = append(out, &ToolCallEvent{Invocation: inv})
	}
	if msg.TurnComplete {
		out = append(out, &TurnCompleteEvent{})
	}
	if msg.GoAway {
		out = append(out, &GoAwayEvent{TimeLeft: msg.GoAwayTimeLeft})
	}
	return out
}

func (m *Manager) closing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateClosing || m.state.Terminal()
}

// fail moves the session to StateFailed and releases the connection. The
// goroutines observe cancellation and exit; Close still waits for them.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.err = err
	_ = m.transitionLocked(StateFailed)
	cancel, conn := m.cancel, m.conn
	m.mu.Unlock()

	m.logger.Error("model session failed", "error", err)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Close releases the session and waits for its goroutines. Queued sends are
// abandoned. It is safe to call more than once and from any state.
func (m *Manager) Close() error {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		_ = m.transitionLocked(StateClosed)
		close(m.events)
		m.mu.Unlock()
		return nil
	case StateConnecting:
		_ = m.transitionLocked(StateClosing)
		cancelOpen := m.cancelOpen
		m.mu.Unlock()
		if cancelOpen != nil {
			cancelOpen()
		}
		<-m.done
		return nil
	case StateActive:
		_ = m.transitionLocked(StateClosing)
	case StateClosing:
		m.mu.Unlock()
		<-m.done
		return nil
	default:
		m.mu.Unlock()
		m.wg.Wait()
		return nil
	}
	cancel, conn := m.cancel, m.conn
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	_ = m.transitionLocked(StateClosed)
	m.mu.Unlock()
	return err
}
