// Package modeltest provides an in-memory model.Transport for tests.
package modeltest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vango-go/vai-phone/pkg/core/model"
)

// ErrConnClosed is returned by sends on a closed FakeConn.
var ErrConnClosed = errors.New("fake conn closed")

// Transport hands out Conn on every Connect.
type Transport struct {
	Conn *Conn
	Err  error

	mu      sync.Mutex
	configs []model.SessionConfig
}

func (t *Transport) Connect(ctx context.Context, cfg model.SessionConfig) (model.Conn, error) {
	t.mu.Lock()
	t.configs = append(t.configs, cfg)
	t.mu.Unlock()
	if t.Err != nil {
		return nil, t.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.Conn, nil
}

// Configs returns the session configs passed to Connect.
func (t *Transport) Configs() []model.SessionConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.SessionConfig(nil), t.configs...)
}

// Conn records sends and replays pushed messages.
type Conn struct {
	// SendAudioErr, when set, fails every SendAudio.
	SendAudioErr error
	// SendTextErr, when set, fails every SendText.
	SendTextErr error
	// BlockAudio makes SendAudio block until Close.
	BlockAudio bool

	mu            sync.Mutex
	audio         [][]byte
	texts         []string
	toolResponses []model.ToolResponse

	incoming  chan model.Message
	recvErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
	blocked   chan struct{}
	blockOnce sync.Once
	sent      chan struct{}
}

func NewConn() *Conn {
	return &Conn{
		incoming: make(chan model.Message, 64),
		recvErr:  make(chan error, 1),
		closed:   make(chan struct{}),
		blocked:  make(chan struct{}),
		sent:     make(chan struct{}, 1024),
	}
}

// Push queues a message for Receive.
func (c *Conn) Push(msg model.Message) { c.incoming <- msg }

// FailReceive makes the next Receive return err.
func (c *Conn) FailReceive(err error) { c.recvErr <- err }

// Blocked is closed once a SendAudio call is blocked by BlockAudio.
func (c *Conn) Blocked() <-chan struct{} { return c.blocked }

// Sent receives a value after every successful send of any kind.
func (c *Conn) Sent() <-chan struct{} { return c.sent }

// Closed is closed by Close.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) SendAudio(ctx context.Context, pcm []byte) error {
	if c.BlockAudio {
		c.blockOnce.Do(func() { close(c.blocked) })
		<-c.closed
		return ErrConnClosed
	}
	if c.isClosed() {
		return ErrConnClosed
	}
	if c.SendAudioErr != nil {
		return c.SendAudioErr
	}
	c.mu.Lock()
	c.audio = append(c.audio, append([]byte(nil), pcm...))
	c.mu.Unlock()
	c.notifySent()
	return nil
}

func (c *Conn) SendText(ctx context.Context, text string) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	if c.SendTextErr != nil {
		return c.SendTextErr
	}
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	c.notifySent()
	return nil
}

func (c *Conn) SendToolResponse(ctx context.Context, resp model.ToolResponse) error {
	if c.isClosed() {
		return ErrConnClosed
	}
	c.mu.Lock()
	c.toolResponses = append(c.toolResponses, resp)
	c.mu.Unlock()
	c.notifySent()
	return nil
}

func (c *Conn) Receive(ctx context.Context) (model.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case err := <-c.recvErr:
		return model.Message{}, err
	case <-c.closed:
		return model.Message{}, io.EOF
	case <-ctx.Done():
		return model.Message{}, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) notifySent() {
	select {
	case c.sent <- struct{}{}:
	default:
	}
}

// Audio returns copies of the audio frames sent so far.
func (c *Conn) Audio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

// Texts returns the text turns sent so far.
func (c *Conn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

// ToolResponses returns the tool responses sent so far.
func (c *Conn) ToolResponses() []model.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ToolResponse(nil), c.toolResponses...)
}
