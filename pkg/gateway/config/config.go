package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/audio"
)

type StoreKind string

const (
	StorePostgres StoreKind = "postgres"
	StoreMemory   StoreKind = "memory"
)

type GeminiBackend string

const (
	GeminiBackendAPI    GeminiBackend = "gemini"
	GeminiBackendVertex GeminiBackend = "vertex"
)

type Config struct {
	Addr string
	// PublicURL is the externally reachable base URL used in answer webhooks
	// (for example https://phone.example.com). Empty derives it from the request.
	PublicURL string

	Store         StoreKind
	DatabaseURL   string
	DBAutoMigrate bool

	GeminiAPIKey        string
	GeminiBackend       GeminiBackend
	GoogleCloudProject  string
	GoogleCloudLocation string
	Model               string
	DefaultVoice        string

	// Phone region used to normalize national numbers ("" = digits only).
	DefaultRegion string

	// Telephony leg audio.
	TransportSampleRate int
	TransportByteOrder  audio.ByteOrder
	TransportFrameMs    int
	InboundChunkFrames  int

	// Model leg audio.
	ModelInputSampleRate  int
	ModelOutputSampleRate int
	RemoveDC              bool

	ModelAudioQueue int
	OutboundQueue   int

	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReadTimeout    time.Duration
	HandshakeTimeout time.Duration
	MaxCallDuration  time.Duration
	NotifyTimeout    time.Duration

	// Signed stream URLs. An empty secret accepts unsigned query/header parameters.
	StreamTokenSecret string
	StreamTokenTTL    time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	SNSTopicARN string
	AWSRegion   string

	// 0 disables the per-tenant concurrent call cap.
	MaxCallsPerTenant int

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VAI_PHONE_ADDR", ":8080"),
		PublicURL:             strings.TrimRight(envOr("VAI_PHONE_PUBLIC_URL", ""), "/"),
		Store:                 StoreKind(envOr("VAI_PHONE_STORE", string(StorePostgres))),
		DatabaseURL:           envOr("VAI_PHONE_DATABASE_URL", ""),
		DBAutoMigrate:         envBoolOr("VAI_PHONE_DB_AUTO_MIGRATE", true),
		GeminiAPIKey:          envOr("VAI_PHONE_GEMINI_API_KEY", ""),
		GeminiBackend:         GeminiBackend(envOr("VAI_PHONE_GEMINI_BACKEND", string(GeminiBackendAPI))),
		GoogleCloudProject:    envOr("VAI_PHONE_GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   envOr("VAI_PHONE_GOOGLE_CLOUD_LOCATION", "us-central1"),
		Model:                 envOr("VAI_PHONE_MODEL", "gemini-live-2.5-flash-native-audio"),
		DefaultVoice:          envOr("VAI_PHONE_DEFAULT_VOICE", "Puck"),
		DefaultRegion:         strings.ToUpper(envOr("VAI_PHONE_DEFAULT_REGION", "")),
		TransportSampleRate:   envIntOr("VAI_PHONE_TRANSPORT_SAMPLE_RATE", 16000),
		TransportFrameMs:      envIntOr("VAI_PHONE_TRANSPORT_FRAME_MS", 20),
		InboundChunkFrames:    envIntOr("VAI_PHONE_INBOUND_CHUNK_FRAMES", 2),
		ModelInputSampleRate:  envIntOr("VAI_PHONE_MODEL_INPUT_SAMPLE_RATE", 16000),
		ModelOutputSampleRate: envIntOr("VAI_PHONE_MODEL_OUTPUT_SAMPLE_RATE", 24000),
		RemoveDC:              envBoolOr("VAI_PHONE_REMOVE_DC", true),
		ModelAudioQueue:       envIntOr("VAI_PHONE_MODEL_AUDIO_QUEUE", 8),
		OutboundQueue:         envIntOr("VAI_PHONE_OUTBOUND_QUEUE", 64),
		WSPingInterval:        envDurationOr("VAI_PHONE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:        envDurationOr("VAI_PHONE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:         envDurationOr("VAI_PHONE_WS_READ_TIMEOUT", 30*time.Second),
		HandshakeTimeout:      envDurationOr("VAI_PHONE_HANDSHAKE_TIMEOUT", 10*time.Second),
		MaxCallDuration:       envDurationOr("VAI_PHONE_MAX_CALL_DURATION", 30*time.Minute),
		NotifyTimeout:         envDurationOr("VAI_PHONE_NOTIFY_TIMEOUT", 10*time.Second),
		StreamTokenSecret:     envOr("VAI_PHONE_STREAM_TOKEN_SECRET", ""),
		StreamTokenTTL:        envDurationOr("VAI_PHONE_STREAM_TOKEN_TTL", 2*time.Minute),
		VAPIDPublicKey:        envOr("VAI_PHONE_VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:       envOr("VAI_PHONE_VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:          envOr("VAI_PHONE_VAPID_SUBJECT", ""),
		SNSTopicARN:           envOr("VAI_PHONE_SNS_TOPIC_ARN", ""),
		AWSRegion:             envOr("VAI_PHONE_AWS_REGION", ""),
		MaxCallsPerTenant:     envIntOr("VAI_PHONE_MAX_CALLS_PER_TENANT", 0),
		ReadHeaderTimeout:     envDurationOr("VAI_PHONE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:   envDurationOr("VAI_PHONE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	order, err := audio.ParseByteOrder(strings.ToLower(envOr("VAI_PHONE_TRANSPORT_BYTE_ORDER", "little")))
	if err != nil {
		return Config{}, fmt.Errorf("VAI_PHONE_TRANSPORT_BYTE_ORDER must be little|big")
	}
	cfg.TransportByteOrder = order

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if issues := c.Issues(); len(issues) > 0 {
		return fmt.Errorf("%s", issues[0])
	}
	return nil
}

// Issues lists every invalid setting, worded with its env key.
func (c Config) Issues() []string {
	var issues []string
	add := func(format string, args ...any) { issues = append(issues, fmt.Sprintf(format, args...)) }

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			add("VAI_PHONE_DATABASE_URL must be set when VAI_PHONE_STORE=postgres")
		}
	case StoreMemory:
	default:
		add("VAI_PHONE_STORE must be one of postgres|memory")
	}
	switch c.GeminiBackend {
	case GeminiBackendAPI:
		if c.GeminiAPIKey == "" {
			add("VAI_PHONE_GEMINI_API_KEY must be set when VAI_PHONE_GEMINI_BACKEND=gemini")
		}
	case GeminiBackendVertex:
		if c.GoogleCloudProject == "" {
			add("VAI_PHONE_GOOGLE_CLOUD_PROJECT must be set when VAI_PHONE_GEMINI_BACKEND=vertex")
		}
	default:
		add("VAI_PHONE_GEMINI_BACKEND must be one of gemini|vertex")
	}
	if c.TransportSampleRate != 8000 && c.TransportSampleRate != 16000 {
		add("VAI_PHONE_TRANSPORT_SAMPLE_RATE must be 8000 or 16000")
	}
	if c.TransportFrameMs <= 0 {
		add("VAI_PHONE_TRANSPORT_FRAME_MS must be > 0")
	}
	if c.InboundChunkFrames <= 0 {
		add("VAI_PHONE_INBOUND_CHUNK_FRAMES must be > 0")
	}
	if c.ModelInputSampleRate <= 0 {
		add("VAI_PHONE_MODEL_INPUT_SAMPLE_RATE must be > 0")
	}
	if c.ModelOutputSampleRate <= 0 {
		add("VAI_PHONE_MODEL_OUTPUT_SAMPLE_RATE must be > 0")
	}
	if c.ModelAudioQueue <= 0 {
		add("VAI_PHONE_MODEL_AUDIO_QUEUE must be > 0")
	}
	if c.OutboundQueue <= 0 {
		add("VAI_PHONE_OUTBOUND_QUEUE must be > 0")
	}
	if c.WSPingInterval <= 0 {
		add("VAI_PHONE_WS_PING_INTERVAL must be > 0")
	}
	if c.WSWriteTimeout <= 0 {
		add("VAI_PHONE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.WSReadTimeout < 0 {
		add("VAI_PHONE_WS_READ_TIMEOUT must be >= 0")
	}
	if c.HandshakeTimeout <= 0 {
		add("VAI_PHONE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.MaxCallDuration <= 0 {
		add("VAI_PHONE_MAX_CALL_DURATION must be > 0")
	}
	if c.NotifyTimeout <= 0 {
		add("VAI_PHONE_NOTIFY_TIMEOUT must be > 0")
	}
	if c.StreamTokenSecret != "" && c.StreamTokenTTL <= 0 {
		add("VAI_PHONE_STREAM_TOKEN_TTL must be > 0")
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		add("VAI_PHONE_VAPID_PUBLIC_KEY and VAI_PHONE_VAPID_PRIVATE_KEY must be set together")
	}
	if c.MaxCallsPerTenant < 0 {
		add("VAI_PHONE_MAX_CALLS_PER_TENANT must be >= 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		add("VAI_PHONE_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		add("VAI_PHONE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return issues
}

// TransportFormat is the telephony leg PCM format.
func (c Config) TransportFormat() audio.Format {
	return audio.PCM16(c.TransportSampleRate, c.TransportByteOrder)
}

// ModelInputFormat is the PCM format the model accepts.
func (c Config) ModelInputFormat() audio.Format {
	return audio.PCM16(c.ModelInputSampleRate, audio.LittleEndian)
}

// ModelOutputFormat is the PCM format the model emits.
func (c Config) ModelOutputFormat() audio.Format {
	return audio.PCM16(c.ModelOutputSampleRate, audio.LittleEndian)
}

// TransportFrameBytes is the size of one telephony frame.
func (c Config) TransportFrameBytes() int {
	return c.TransportFormat().BytesForDurationMs(c.TransportFrameMs)
}

// InboundChunkBytes is how much caller audio is batched per model send.
func (c Config) InboundChunkBytes() int {
	return c.TransportFrameBytes() * c.InboundChunkFrames
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
