package model

import (
	"time"

	"github.com/vango-go/vai-phone/pkg/core/tools"
)

// Event is emitted by the receiver goroutine on Manager.Events.
type Event interface {
	EventType() string
}

// AudioEvent carries synthesized PCM in the model output format.
type AudioEvent struct {
	PCM []byte
}

func (e *AudioEvent) EventType() string { return "audio" }

// ToolCallEvent asks the caller to run a tool and acknowledge it.
type ToolCallEvent struct {
	Invocation tools.Invocation
}

func (e *ToolCallEvent) EventType() string { return "tool_call" }

// InterruptedEvent means the caller barged in; queued playback is stale.
type InterruptedEvent struct{}

func (e *InterruptedEvent) EventType() string { return "interrupted" }

// TurnCompleteEvent marks the end of one model turn.
type TurnCompleteEvent struct{}

func (e *TurnCompleteEvent) EventType() string { return "turn_complete" }

// ToolCancelEvent lists tool call ids the model no longer wants answered.
type ToolCancelEvent struct {
	IDs []string
}

func (e *ToolCancelEvent) EventType() string { return "tool_cancel" }

// GoAwayEvent warns that the server will end the session soon.
type GoAwayEvent struct {
	TimeLeft time.Duration
}

func (e *GoAwayEvent) EventType() string { return "go_away" }
