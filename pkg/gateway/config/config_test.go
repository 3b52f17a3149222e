package config

import (
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/audio"
)

var phoneEnvKeys = []string{
	"VAI_PHONE_ADDR",
	"VAI_PHONE_PUBLIC_URL",
	"VAI_PHONE_STORE",
	"VAI_PHONE_DATABASE_URL",
	"VAI_PHONE_DB_AUTO_MIGRATE",
	"VAI_PHONE_GEMINI_API_KEY",
	"VAI_PHONE_GEMINI_BACKEND",
	"VAI_PHONE_GOOGLE_CLOUD_PROJECT",
	"VAI_PHONE_GOOGLE_CLOUD_LOCATION",
	"VAI_PHONE_MODEL",
	"VAI_PHONE_DEFAULT_VOICE",
	"VAI_PHONE_DEFAULT_REGION",
	"VAI_PHONE_TRANSPORT_SAMPLE_RATE",
	"VAI_PHONE_TRANSPORT_BYTE_ORDER",
	"VAI_PHONE_TRANSPORT_FRAME_MS",
	"VAI_PHONE_INBOUND_CHUNK_FRAMES",
	"VAI_PHONE_MODEL_INPUT_SAMPLE_RATE",
	"VAI_PHONE_MODEL_OUTPUT_SAMPLE_RATE",
	"VAI_PHONE_REMOVE_DC",
	"VAI_PHONE_MODEL_AUDIO_QUEUE",
	"VAI_PHONE_OUTBOUND_QUEUE",
	"VAI_PHONE_WS_PING_INTERVAL",
	"VAI_PHONE_WS_WRITE_TIMEOUT",
	"VAI_PHONE_WS_READ_TIMEOUT",
	"VAI_PHONE_HANDSHAKE_TIMEOUT",
	"VAI_PHONE_MAX_CALL_DURATION",
	"VAI_PHONE_NOTIFY_TIMEOUT",
	"VAI_PHONE_STREAM_TOKEN_SECRET",
	"VAI_PHONE_STREAM_TOKEN_TTL",
	"VAI_PHONE_VAPID_PUBLIC_KEY",
	"VAI_PHONE_VAPID_PRIVATE_KEY",
	"VAI_PHONE_VAPID_SUBJECT",
	"VAI_PHONE_SNS_TOPIC_ARN",
	"VAI_PHONE_AWS_REGION",
	"VAI_PHONE_MAX_CALLS_PER_TENANT",
	"VAI_PHONE_READ_HEADER_TIMEOUT",
	"VAI_PHONE_SHUTDOWN_GRACE_PERIOD",
}

func clearPhoneEnv(t *testing.T) {
	t.Helper()
	for _, key := range phoneEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearPhoneEnv(t)
	t.Setenv("VAI_PHONE_DATABASE_URL", "postgres://localhost/vai_phone")
	t.Setenv("VAI_PHONE_GEMINI_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.Store != StorePostgres || !cfg.DBAutoMigrate {
		t.Fatalf("Store = %q auto_migrate=%v", cfg.Store, cfg.DBAutoMigrate)
	}
	if cfg.TransportSampleRate != 16000 || cfg.TransportByteOrder != audio.LittleEndian {
		t.Fatalf("transport = %d/%s", cfg.TransportSampleRate, cfg.TransportByteOrder)
	}
	if cfg.ModelInputSampleRate != 16000 || cfg.ModelOutputSampleRate != 24000 {
		t.Fatalf("model rates = %d/%d", cfg.ModelInputSampleRate, cfg.ModelOutputSampleRate)
	}
	if got := cfg.TransportFrameBytes(); got != 640 {
		t.Fatalf("TransportFrameBytes = %d, want 640", got)
	}
	if got := cfg.InboundChunkBytes(); got != 1280 {
		t.Fatalf("InboundChunkBytes = %d, want 1280", got)
	}
	if cfg.ModelAudioQueue != 8 {
		t.Fatalf("ModelAudioQueue = %d, want 8", cfg.ModelAudioQueue)
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("WSWriteTimeout = %v, want 5s", cfg.WSWriteTimeout)
	}
	if cfg.MaxCallDuration != 30*time.Minute {
		t.Fatalf("MaxCallDuration = %v, want 30m", cfg.MaxCallDuration)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.DefaultVoice != "Puck" {
		t.Fatalf("DefaultVoice = %q, want Puck", cfg.DefaultVoice)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearPhoneEnv(t)
	t.Setenv("VAI_PHONE_STORE", "memory")
	t.Setenv("VAI_PHONE_GEMINI_BACKEND", "vertex")
	t.Setenv("VAI_PHONE_GOOGLE_CLOUD_PROJECT", "resto-prod")
	t.Setenv("VAI_PHONE_TRANSPORT_SAMPLE_RATE", "8000")
	t.Setenv("VAI_PHONE_TRANSPORT_BYTE_ORDER", "big")
	t.Setenv("VAI_PHONE_DEFAULT_REGION", "ma")
	t.Setenv("VAI_PHONE_PUBLIC_URL", "https://phone.example.com/")
	t.Setenv("VAI_PHONE_MAX_CALLS_PER_TENANT", "3")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Store != StoreMemory || cfg.GeminiBackend != GeminiBackendVertex {
		t.Fatalf("store=%q backend=%q", cfg.Store, cfg.GeminiBackend)
	}
	if cfg.TransportByteOrder != audio.BigEndian {
		t.Fatalf("byte order = %s, want big", cfg.TransportByteOrder)
	}
	if got := cfg.TransportFrameBytes(); got != 320 {
		t.Fatalf("TransportFrameBytes = %d, want 320", got)
	}
	if cfg.DefaultRegion != "MA" {
		t.Fatalf("DefaultRegion = %q, want MA", cfg.DefaultRegion)
	}
	if cfg.PublicURL != "https://phone.example.com" {
		t.Fatalf("PublicURL = %q", cfg.PublicURL)
	}
	if cfg.MaxCallsPerTenant != 3 {
		t.Fatalf("MaxCallsPerTenant = %d, want 3", cfg.MaxCallsPerTenant)
	}
}

func TestLoadFromEnv_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing database url", map[string]string{"VAI_PHONE_GEMINI_API_KEY": "k"}, "VAI_PHONE_DATABASE_URL"},
		{"bad store", map[string]string{"VAI_PHONE_STORE": "sqlite", "VAI_PHONE_GEMINI_API_KEY": "k"}, "VAI_PHONE_STORE"},
		{"missing api key", map[string]string{"VAI_PHONE_STORE": "memory"}, "VAI_PHONE_GEMINI_API_KEY"},
		{"bad rate", map[string]string{"VAI_PHONE_STORE": "memory", "VAI_PHONE_GEMINI_API_KEY": "k", "VAI_PHONE_TRANSPORT_SAMPLE_RATE": "44100"}, "VAI_PHONE_TRANSPORT_SAMPLE_RATE"},
		{"bad byte order", map[string]string{"VAI_PHONE_STORE": "memory", "VAI_PHONE_GEMINI_API_KEY": "k", "VAI_PHONE_TRANSPORT_BYTE_ORDER": "middle"}, "VAI_PHONE_TRANSPORT_BYTE_ORDER"},
		{"half vapid", map[string]string{"VAI_PHONE_STORE": "memory", "VAI_PHONE_GEMINI_API_KEY": "k", "VAI_PHONE_VAPID_PUBLIC_KEY": "pub"}, "VAI_PHONE_VAPID"},
		{"zero queue", map[string]string{"VAI_PHONE_STORE": "memory", "VAI_PHONE_GEMINI_API_KEY": "k", "VAI_PHONE_OUTBOUND_QUEUE": "0"}, "VAI_PHONE_OUTBOUND_QUEUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearPhoneEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want mention of %s", err, tt.want)
			}
		})
	}
}
