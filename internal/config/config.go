package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the local processing service the form submits to.
const DefaultEndpoint = "http://127.0.0.1:5000/process_audio"

type TelemetryConfig struct {
	LogLevel      string `yaml:"log_level"`
	TraceExporter string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	ClientName  string           `yaml:"client_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Capture     CaptureConfig    `yaml:"capture"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Submit      SubmitConfig     `yaml:"submit"`
	Archive     ArchiveConfig    `yaml:"archive"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
}

type CaptureConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	// MockDurationMS is the length of silence the mock source produces per recording.
	MockDurationMS int `yaml:"mock_duration_ms"`
}

type PlaybackConfig struct {
	Mode    string `yaml:"mode"` // none, exec
	Command string `yaml:"command"`
}

type SubmitConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AudioFilename string `yaml:"audio_filename"`
	// TimeoutMS of zero leaves the request unbounded.
	TimeoutMS int `yaml:"timeout_ms"`
}

type ArchiveConfig struct {
	Mode      string `yaml:"mode"` // none, file, s3
	Filename  string `yaml:"filename"`
	Directory string `yaml:"directory"`
	S3Region  string `yaml:"s3_region"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`

	// Embedded runs a local NATS server on Port and connects to it.
	Embedded bool `yaml:"embedded"`
	Port     int  `yaml:"port"`
}

func Default() Config {
	return Config{
		ClientName:  "voiceform",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    9464,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			TraceExporter: "none",
			OTLPInsecure:  true,
		},
		Capture: CaptureConfig{
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			MockDurationMS: 1000,
		},
		Playback: PlaybackConfig{
			Mode: "none",
		},
		Submit: SubmitConfig{
			Endpoint:      DefaultEndpoint,
			AudioFilename: "audio.wav",
		},
		Archive: ArchiveConfig{
			Mode:      "file",
			Filename:  "input_voice.wav",
			Directory: "./downloads",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voiceform-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "voiceform.event",
			Port:           4222,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ClientName, "VOICEFORM_CLIENT_NAME")
	overrideString(&cfg.Environment, "VOICEFORM_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "VOICEFORM_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "VOICEFORM_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEFORM_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEFORM_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "VOICEFORM_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEFORM_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEFORM_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Capture.Mode, "VOICEFORM_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "VOICEFORM_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "VOICEFORM_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "VOICEFORM_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.MockDurationMS, "VOICEFORM_CAPTURE_MOCK_DURATION_MS")
	overrideString(&cfg.Playback.Mode, "VOICEFORM_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "VOICEFORM_PLAYBACK_COMMAND")
	overrideString(&cfg.Submit.Endpoint, "VOICEFORM_SUBMIT_ENDPOINT")
	overrideString(&cfg.Submit.AudioFilename, "VOICEFORM_SUBMIT_AUDIO_FILENAME")
	overrideInt(&cfg.Submit.TimeoutMS, "VOICEFORM_SUBMIT_TIMEOUT_MS")
	overrideString(&cfg.Archive.Mode, "VOICEFORM_ARCHIVE_MODE")
	overrideString(&cfg.Archive.Filename, "VOICEFORM_ARCHIVE_FILENAME")
	overrideString(&cfg.Archive.Directory, "VOICEFORM_ARCHIVE_DIRECTORY")
	overrideString(&cfg.Archive.S3Region, "VOICEFORM_ARCHIVE_S3_REGION")
	overrideString(&cfg.Archive.S3Bucket, "VOICEFORM_ARCHIVE_S3_BUCKET")
	overrideString(&cfg.Archive.S3Prefix, "VOICEFORM_ARCHIVE_S3_PREFIX")
	overrideString(&cfg.EventStore.Path, "VOICEFORM_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOICEFORM_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOICEFORM_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOICEFORM_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOICEFORM_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "VOICEFORM_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEFORM_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEFORM_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEFORM_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEFORM_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEFORM_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEFORM_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "VOICEFORM_BUS_SUBJECT_PREFIX")
	overrideBool(&cfg.Bus.Embedded, "VOICEFORM_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEFORM_BUS_PORT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ClientName == "" {
		return errors.New("client_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}

	switch cfg.Capture.Mode {
	case "mock":
		if cfg.Capture.MockDurationMS < 0 {
			return errors.New("capture.mock_duration_ms must be >= 0")
		}
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}

	switch cfg.Playback.Mode {
	case "none":
	case "exec":
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when mode=exec")
		}
	default:
		return errors.New("playback.mode must be one of none|exec")
	}

	if cfg.Submit.Endpoint == "" {
		return errors.New("submit.endpoint must not be empty")
	}
	if u, err := url.Parse(cfg.Submit.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("submit.endpoint %q must be an absolute http(s) URL", cfg.Submit.Endpoint)
	}
	if cfg.Submit.AudioFilename == "" {
		return errors.New("submit.audio_filename must not be empty")
	}
	if cfg.Submit.TimeoutMS < 0 {
		return errors.New("submit.timeout_ms must be >= 0")
	}

	switch cfg.Archive.Mode {
	case "none":
	case "file":
		if cfg.Archive.Directory == "" {
			return errors.New("archive.directory must be set when mode=file")
		}
	case "s3":
		if cfg.Archive.S3Bucket == "" {
			return errors.New("archive.s3_bucket must be set when mode=s3")
		}
	default:
		return errors.New("archive.mode must be one of none|file|s3")
	}
	if cfg.Archive.Mode != "none" && cfg.Archive.Filename == "" {
		return errors.New("archive.filename must not be empty")
	}

	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}

	if cfg.Bus.Enabled {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when the bus is enabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty when the bus is enabled")
		}
		if cfg.Bus.Embedded && (cfg.Bus.Port < -1 || cfg.Bus.Port > 65535) {
			return errors.New("bus.port must be a valid port for the embedded server")
		}
	}
	return nil
}
