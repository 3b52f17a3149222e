package model

import (
	"context"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/audio"
	"github.com/vango-go/vai-phone/pkg/core/tools"
)

// SessionConfig is what a transport needs to set up a session.
type SessionConfig struct {
	Model             string
	SystemInstruction string
	Voice             string
	Tools             []tools.Declaration
	InputFormat       audio.Format
}

// ToolResponse answers one tool call.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Message is one transport message, already decoded. Several fields may be
// set at once; the Manager emits them in a fixed order.
type Message struct {
	SetupComplete     bool
	Audio             [][]byte
	ToolCalls         []tools.Invocation
	ToolCancellations []string
	Interrupted       bool
	TurnComplete      bool
	GoAway            bool
	GoAwayTimeLeft    time.Duration
}

// Conn is one established model session. Send methods may be called from a
// single goroutine only; Receive from another. Close unblocks both.
type Conn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string) error
	SendToolResponse(ctx context.Context, resp ToolResponse) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Transport opens model sessions.
type Transport interface {
	Connect(ctx context.Context, cfg SessionConfig) (Conn, error)
}
