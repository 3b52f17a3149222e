// Package gemini implements model.Transport on the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-phone/pkg/core/model"
	"github.com/vango-go/vai-phone/pkg/core/tools"
)

const DefaultModel = "gemini-live-2.5-flash-native-audio"

// Backend selects the Gemini API or Vertex AI.
type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendVertex Backend = "vertex"
)

type Config struct {
	APIKey   string
	Backend  Backend
	Project  string
	Location string
	Model    string
}

// liveSession is the subset of *genai.Session the adapter drives.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, modelName string, cfg *genai.LiveConnectConfig) (liveSession, error)

// Transport opens Gemini Live sessions.
type Transport struct {
	model   string
	connect connectFunc
}

// NewTransport builds a genai client for cfg.
func NewTransport(ctx context.Context, cfg Config) (*Transport, error) {
	cc := &genai.ClientConfig{}
	switch cfg.Backend {
	case BackendVertex:
		if cfg.Project == "" || cfg.Location == "" {
			return nil, errors.New("gemini: vertex backend requires project and location")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	case BackendGemini, "":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("gemini: api key is required")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, fmt.Errorf("gemini: unknown backend %q", cfg.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Transport{
		model: modelName,
		connect: func(ctx context.Context, name string, lc *genai.LiveConnectConfig) (liveSession, error) {
			session, err := client.Live.Connect(ctx, name, lc)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
	}, nil
}

func (t *Transport) Connect(ctx context.Context, cfg model.SessionConfig) (model.Conn, error) {
	name := cfg.Model
	if name == "" {
		name = t.model
	}
	session, err := t.connect(ctx, name, liveConnectConfig(cfg))
	if err != nil {
		return nil, classify("connect", err)
	}
	return &conn{session: session, inputMIME: cfg.InputFormat.MIMEType()}, nil
}

func liveConnectConfig(cfg model.SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, d := range cfg.Tools {
			decls = append(decls, functionDeclaration(d))
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return lc
}

func functionDeclaration(d tools.Declaration) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(d.Params))
	for _, p := range d.Params {
		props[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
	}
	return &genai.FunctionDeclaration{
		Name:        d.Name,
		Description: d.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   d.Required(),
		},
	}
}

type conn struct {
	session   liveSession
	inputMIME string
}

func (c *conn) SendAudio(_ context.Context, pcm []byte) error {
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: c.inputMIME, Data: pcm},
	})
}

func (c *conn) SendText(_ context.Context, text string) error {
	return c.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}},
		TurnComplete: genai.Ptr(true),
	})
}

func (c *conn) SendToolResponse(_ context.Context, resp model.ToolResponse) error {
	return c.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Response,
		}},
	})
}

// Receive blocks in the session until a message arrives or Close is called.
func (c *conn) Receive(_ context.Context) (model.Message, error) {
	msg, err := c.session.Receive()
	if err != nil {
		return model.Message{}, classify("receive", err)
	}
	return toMessage(msg), nil
}

func (c *conn) Close() error { return c.session.Close() }

func toMessage(msg *genai.LiveServerMessage) model.Message {
	var out model.Message
	if msg == nil {
		return out
	}
	out.SetupComplete = msg.SetupComplete != nil
	if sc := msg.ServerContent; sc != nil {
		out.Interrupted = sc.Interrupted
		out.TurnComplete = sc.TurnComplete
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
					out.Audio = append(out.Audio, part.InlineData.Data)
				}
			}
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, tools.Invocation{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	if cancel := msg.ToolCallCancellation; cancel != nil {
		out.ToolCancellations = append(out.ToolCancellations, cancel.IDs...)
	}
	if msg.GoAway != nil {
		out.GoAway = true
		out.GoAwayTimeLeft = msg.GoAway.TimeLeft
	}
	return out
}
