package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	// APIKeys holds the accepted X-API-Key values. Empty means auth is
	// disabled, which is only sensible in development.
	APIKeys []string `yaml:"api_keys"`
}

type PersonaConfig struct {
	OrgName       string `yaml:"org_name"`
	RiskTolerance string `yaml:"risk_tolerance"`
	PrimaryMarket string `yaml:"primary_market"`
}

type SessionConfig struct {
	MaxHistoryTurns int `yaml:"max_history_turns"`
	IdleTimeoutMS   int `yaml:"idle_timeout_ms"`
	SweepIntervalMS int `yaml:"sweep_interval_ms"`
}

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// RetryConfig bounds one backend call sequence: per-attempt cap, backoff
// shape, and the overall budget the whole sequence must fit inside.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
	BudgetMS         int `yaml:"budget_ms"`
}

type GenerateConfig struct {
	Mode             string      `yaml:"mode"` // mock, openai, exec
	Endpoint         string      `yaml:"endpoint"`
	APIKey           string      `yaml:"api_key"`
	Command          string      `yaml:"command"`
	Model            string      `yaml:"model"`
	MaxTokens        int         `yaml:"max_tokens"`
	Temperature      float64     `yaml:"temperature"`
	RequestTimeoutMS int         `yaml:"request_timeout_ms"`
	Retry            RetryConfig `yaml:"retry"`
}

type TranscribeConfig struct {
	Mode             string      `yaml:"mode"` // mock, openai, exec
	Endpoint         string      `yaml:"endpoint"`
	APIKey           string      `yaml:"api_key"`
	Command          string      `yaml:"command"`
	Model            string      `yaml:"model"`
	Language         string      `yaml:"language"`
	SampleRate       int         `yaml:"sample_rate"`
	Channels         int         `yaml:"channels"`
	RequestTimeoutMS int         `yaml:"request_timeout_ms"`
	Retry            RetryConfig `yaml:"retry"`
}

type SynthesizeConfig struct {
	Mode             string      `yaml:"mode"` // mock, openai, exec
	Endpoint         string      `yaml:"endpoint"`
	APIKey           string      `yaml:"api_key"`
	Command          string      `yaml:"command"`
	Model            string      `yaml:"model"`
	Voice            string      `yaml:"voice"`
	SampleRate       int         `yaml:"sample_rate"`
	Channels         int         `yaml:"channels"`
	ChunkDurationMS  int         `yaml:"chunk_duration_ms"`
	RequestTimeoutMS int         `yaml:"request_timeout_ms"`
	Retry            RetryConfig `yaml:"retry"`
}

type PipelineConfig struct {
	ReorderTolerance     int `yaml:"reorder_tolerance"`
	SilenceThreshold     int `yaml:"silence_threshold"`
	SilenceWindowMS      int `yaml:"silence_window_ms"`
	MaxUtteranceBytes    int `yaml:"max_utterance_bytes"`
	MaxUtteranceMS       int `yaml:"max_utterance_ms"`
	OutboundBufferFrames int `yaml:"outbound_buffer_frames"`
}

type VoiceConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LimitsConfig struct {
	MaxMessageBytes int `yaml:"max_message_bytes"`
	MaxAudioBytes   int `yaml:"max_audio_bytes"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Auth        AuthConfig       `yaml:"auth"`
	Persona     PersonaConfig    `yaml:"persona"`
	Session     SessionConfig    `yaml:"session"`
	Journal     JournalConfig    `yaml:"journal"`
	Bus         BusConfig        `yaml:"bus"`
	Generate    GenerateConfig   `yaml:"generate"`
	Transcribe  TranscribeConfig `yaml:"transcribe"`
	Synthesize  SynthesizeConfig `yaml:"synthesize"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Voice       VoiceConfig      `yaml:"voice"`
	Limits      LimitsConfig     `yaml:"limits"`
}

func Default() Config {
	return Config{
		ServiceName: "fredrick",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Persona: PersonaConfig{
			OrgName:       "Southern Shade LLC",
			RiskTolerance: "moderate",
			PrimaryMarket: "US_GOV_AND_ENTERPRISE",
		},
		Session: SessionConfig{
			MaxHistoryTurns: 40,
			IdleTimeoutMS:   1800000,
			SweepIntervalMS: 60000,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "./data/fredrick-turns.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Generate: GenerateConfig{
			Mode:             "mock",
			Endpoint:         "https://api.groq.com/openai/v1",
			Model:            "llama-3.3-70b-versatile",
			MaxTokens:        2048,
			Temperature:      0.7,
			RequestTimeoutMS: 20000,
			Retry: RetryConfig{
				MaxAttempts:      3,
				InitialBackoffMS: 250,
				MaxBackoffMS:     4000,
				BudgetMS:         45000,
			},
		},
		Transcribe: TranscribeConfig{
			Mode:             "mock",
			Endpoint:         "https://api.groq.com/openai/v1",
			Model:            "whisper-large-v3",
			Language:         "en",
			SampleRate:       16000,
			Channels:         1,
			RequestTimeoutMS: 15000,
			Retry: RetryConfig{
				MaxAttempts:      3,
				InitialBackoffMS: 250,
				MaxBackoffMS:     4000,
				BudgetMS:         30000,
			},
		},
		Synthesize: SynthesizeConfig{
			Mode:             "mock",
			Model:            "tts-1",
			Voice:            "alloy",
			SampleRate:       22050,
			Channels:         1,
			ChunkDurationMS:  400,
			RequestTimeoutMS: 15000,
			Retry: RetryConfig{
				MaxAttempts:      2,
				InitialBackoffMS: 250,
				MaxBackoffMS:     2000,
				BudgetMS:         20000,
			},
		},
		Pipeline: PipelineConfig{
			ReorderTolerance:     0,
			SilenceThreshold:     250,
			SilenceWindowMS:      600,
			MaxUtteranceBytes:    2 << 20,
			MaxUtteranceMS:       30000,
			OutboundBufferFrames: 32,
		},
		Voice: VoiceConfig{
			Enabled: true,
		},
		Limits: LimitsConfig{
			MaxMessageBytes: 16384,
			MaxAudioBytes:   10 << 20,
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
	overrideString(&cfg.ServiceName, "FREDRICK_SERVICE_NAME")
	overrideString(&cfg.Environment, "FREDRICK_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FREDRICK_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FREDRICK_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FREDRICK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FREDRICK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FREDRICK_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FREDRICK_TELEMETRY_PROMETHEUS_BIND")
	overrideStringSlice(&cfg.Auth.APIKeys, "FREDRICK_AUTH_API_KEYS")
	overrideString(&cfg.Persona.OrgName, "FREDRICK_ORG_NAME")
	overrideString(&cfg.Persona.RiskTolerance, "FREDRICK_RISK_TOLERANCE")
	overrideString(&cfg.Persona.PrimaryMarket, "FREDRICK_PRIMARY_MARKET")
	overrideInt(&cfg.Session.MaxHistoryTurns, "FREDRICK_SESSION_MAX_HISTORY_TURNS")
	overrideInt(&cfg.Session.IdleTimeoutMS, "FREDRICK_SESSION_IDLE_TIMEOUT_MS")
	overrideInt(&cfg.Session.SweepIntervalMS, "FREDRICK_SESSION_SWEEP_INTERVAL_MS")
	overrideBool(&cfg.Journal.Enabled, "FREDRICK_JOURNAL_ENABLED")
	overrideString(&cfg.Journal.Path, "FREDRICK_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "FREDRICK_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "FREDRICK_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "FREDRICK_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "FREDRICK_JOURNAL_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Embedded, "FREDRICK_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FREDRICK_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "FREDRICK_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FREDRICK_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FREDRICK_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FREDRICK_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FREDRICK_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FREDRICK_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Generate.Mode, "FREDRICK_GENERATE_MODE")
	overrideString(&cfg.Generate.Endpoint, "FREDRICK_GENERATE_ENDPOINT")
	overrideString(&cfg.Generate.APIKey, "FREDRICK_GENERATE_API_KEY")
	overrideString(&cfg.Generate.Command, "FREDRICK_GENERATE_COMMAND")
	overrideString(&cfg.Generate.Model, "FREDRICK_GENERATE_MODEL")
	overrideInt(&cfg.Generate.MaxTokens, "FREDRICK_GENERATE_MAX_TOKENS")
	overrideFloat(&cfg.Generate.Temperature, "FREDRICK_GENERATE_TEMPERATURE")
	overrideInt(&cfg.Generate.RequestTimeoutMS, "FREDRICK_GENERATE_REQUEST_TIMEOUT_MS")
	overrideRetry(&cfg.Generate.Retry, "FREDRICK_GENERATE")
	overrideString(&cfg.Transcribe.Mode, "FREDRICK_TRANSCRIBE_MODE")
	overrideString(&cfg.Transcribe.Endpoint, "FREDRICK_TRANSCRIBE_ENDPOINT")
	overrideString(&cfg.Transcribe.APIKey, "FREDRICK_TRANSCRIBE_API_KEY")
	overrideString(&cfg.Transcribe.Command, "FREDRICK_TRANSCRIBE_COMMAND")
	overrideString(&cfg.Transcribe.Model, "FREDRICK_TRANSCRIBE_MODEL")
	overrideString(&cfg.Transcribe.Language, "FREDRICK_TRANSCRIBE_LANGUAGE")
	overrideInt(&cfg.Transcribe.SampleRate, "FREDRICK_TRANSCRIBE_SAMPLE_RATE")
	overrideInt(&cfg.Transcribe.Channels, "FREDRICK_TRANSCRIBE_CHANNELS")
	overrideInt(&cfg.Transcribe.RequestTimeoutMS, "FREDRICK_TRANSCRIBE_REQUEST_TIMEOUT_MS")
	overrideRetry(&cfg.Transcribe.Retry, "FREDRICK_TRANSCRIBE")
	overrideString(&cfg.Synthesize.Mode, "FREDRICK_SYNTHESIZE_MODE")
	overrideString(&cfg.Synthesize.Endpoint, "FREDRICK_SYNTHESIZE_ENDPOINT")
	overrideString(&cfg.Synthesize.APIKey, "FREDRICK_SYNTHESIZE_API_KEY")
	overrideString(&cfg.Synthesize.Command, "FREDRICK_SYNTHESIZE_COMMAND")
	overrideString(&cfg.Synthesize.Model, "FREDRICK_SYNTHESIZE_MODEL")
	overrideString(&cfg.Synthesize.Voice, "FREDRICK_SYNTHESIZE_VOICE")
	overrideInt(&cfg.Synthesize.SampleRate, "FREDRICK_SYNTHESIZE_SAMPLE_RATE")
	overrideInt(&cfg.Synthesize.Channels, "FREDRICK_SYNTHESIZE_CHANNELS")
	overrideInt(&cfg.Synthesize.ChunkDurationMS, "FREDRICK_SYNTHESIZE_CHUNK_DURATION_MS")
	overrideInt(&cfg.Synthesize.RequestTimeoutMS, "FREDRICK_SYNTHESIZE_REQUEST_TIMEOUT_MS")
	overrideRetry(&cfg.Synthesize.Retry, "FREDRICK_SYNTHESIZE")
	overrideInt(&cfg.Pipeline.ReorderTolerance, "FREDRICK_PIPELINE_REORDER_TOLERANCE")
	overrideInt(&cfg.Pipeline.SilenceThreshold, "FREDRICK_PIPELINE_SILENCE_THRESHOLD")
	overrideInt(&cfg.Pipeline.SilenceWindowMS, "FREDRICK_PIPELINE_SILENCE_WINDOW_MS")
	overrideInt(&cfg.Pipeline.MaxUtteranceBytes, "FREDRICK_PIPELINE_MAX_UTTERANCE_BYTES")
	overrideInt(&cfg.Pipeline.MaxUtteranceMS, "FREDRICK_PIPELINE_MAX_UTTERANCE_MS")
	overrideInt(&cfg.Pipeline.OutboundBufferFrames, "FREDRICK_PIPELINE_OUTBOUND_BUFFER_FRAMES")
	overrideBool(&cfg.Voice.Enabled, "FREDRICK_VOICE_ENABLED")
	overrideInt(&cfg.Limits.MaxMessageBytes, "FREDRICK_LIMITS_MAX_MESSAGE_BYTES")
	overrideInt(&cfg.Limits.MaxAudioBytes, "FREDRICK_LIMITS_MAX_AUDIO_BYTES")

	// Legacy names from the first deployment keep working.
	overrideString(&cfg.Generate.APIKey, "GROQ_API_KEY")
	if value, ok := os.LookupEnv("FREDRICK_API_KEY"); ok && strings.TrimSpace(value) != "" {
		cfg.Auth.APIKeys = appendKey(cfg.Auth.APIKeys, strings.TrimSpace(value))
	}
}

func appendKey(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}

func overrideRetry(target *RetryConfig, prefix string) {
	overrideInt(&target.MaxAttempts, prefix+"_RETRY_MAX_ATTEMPTS")
	overrideInt(&target.InitialBackoffMS, prefix+"_RETRY_INITIAL_BACKOFF_MS")
	overrideInt(&target.MaxBackoffMS, prefix+"_RETRY_MAX_BACKOFF_MS")
	overrideInt(&target.BudgetMS, prefix+"_RETRY_BUDGET_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validateBackendMode(section, mode string) error {
	switch mode {
	case "mock", "openai", "exec":
		return nil
	default:
		return fmt.Errorf("%s.mode must be one of mock|openai|exec", section)
	}
}

func validateRetry(section string, rc RetryConfig) error {
	if rc.MaxAttempts < 1 {
		return fmt.Errorf("%s.retry.max_attempts must be >= 1", section)
	}
	if rc.InitialBackoffMS <= 0 {
		return fmt.Errorf("%s.retry.initial_backoff_ms must be positive", section)
	}
	if rc.MaxBackoffMS < rc.InitialBackoffMS {
		return fmt.Errorf("%s.retry.max_backoff_ms must be >= initial backoff", section)
	}
	if rc.BudgetMS <= 0 {
		return fmt.Errorf("%s.retry.budget_ms must be positive", section)
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Persona.OrgName == "" {
		return errors.New("persona.org_name must not be empty")
	}
	if cfg.Persona.RiskTolerance == "" {
		return errors.New("persona.risk_tolerance must not be empty")
	}
	if cfg.Persona.PrimaryMarket == "" {
		return errors.New("persona.primary_market must not be empty")
	}
	if cfg.Session.MaxHistoryTurns <= 0 || cfg.Session.MaxHistoryTurns%2 != 0 {
		return errors.New("session.max_history_turns must be a positive even number")
	}
	if cfg.Session.IdleTimeoutMS <= 0 {
		return errors.New("session.idle_timeout_ms must be positive")
	}
	if cfg.Session.SweepIntervalMS <= 0 {
		return errors.New("session.sweep_interval_ms must be positive")
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when journal is enabled")
		}
		switch cfg.Journal.RetentionMode {
		case "ephemeral", "session", "persistent":
			// ok
		default:
			return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
		}
		if cfg.Journal.RetentionDays < 0 {
			return errors.New("journal.retention_days must be >= 0")
		}
	}
	if cfg.Voice.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else {
			if len(cfg.Bus.Servers) == 0 {
				return errors.New("bus.servers must not be empty when embedded mode is disabled")
			}
		}
	}
	if err := validateBackendMode("generate", cfg.Generate.Mode); err != nil {
		return err
	}
	if cfg.Generate.Mode == "openai" {
		if cfg.Generate.Endpoint == "" {
			return errors.New("generate.endpoint must be set when mode=openai")
		}
		if cfg.Generate.Model == "" {
			return errors.New("generate.model must be set when mode=openai")
		}
	}
	if cfg.Generate.Mode == "exec" && cfg.Generate.Command == "" {
		return errors.New("generate.command must be set when mode=exec")
	}
	if cfg.Generate.MaxTokens < 0 {
		return errors.New("generate.max_tokens must be >= 0")
	}
	if cfg.Generate.RequestTimeoutMS <= 0 {
		return errors.New("generate.request_timeout_ms must be positive")
	}
	if err := validateRetry("generate", cfg.Generate.Retry); err != nil {
		return err
	}
	if err := validateBackendMode("transcribe", cfg.Transcribe.Mode); err != nil {
		return err
	}
	if cfg.Transcribe.Mode == "openai" && cfg.Transcribe.Endpoint == "" {
		return errors.New("transcribe.endpoint must be set when mode=openai")
	}
	if cfg.Transcribe.Mode == "exec" && cfg.Transcribe.Command == "" {
		return errors.New("transcribe.command must be set when mode=exec")
	}
	if cfg.Transcribe.SampleRate <= 0 {
		return errors.New("transcribe.sample_rate must be positive")
	}
	if cfg.Transcribe.Channels <= 0 {
		return errors.New("transcribe.channels must be positive")
	}
	if cfg.Transcribe.RequestTimeoutMS <= 0 {
		return errors.New("transcribe.request_timeout_ms must be positive")
	}
	if err := validateRetry("transcribe", cfg.Transcribe.Retry); err != nil {
		return err
	}
	if err := validateBackendMode("synthesize", cfg.Synthesize.Mode); err != nil {
		return err
	}
	if cfg.Synthesize.Mode == "openai" && cfg.Synthesize.Endpoint == "" {
		return errors.New("synthesize.endpoint must be set when mode=openai")
	}
	if cfg.Synthesize.Mode == "exec" && cfg.Synthesize.Command == "" {
		return errors.New("synthesize.command must be set when mode=exec")
	}
	if cfg.Synthesize.SampleRate <= 0 {
		return errors.New("synthesize.sample_rate must be positive")
	}
	if cfg.Synthesize.Channels <= 0 {
		return errors.New("synthesize.channels must be positive")
	}
	if cfg.Synthesize.ChunkDurationMS <= 0 {
		return errors.New("synthesize.chunk_duration_ms must be positive")
	}
	if cfg.Synthesize.RequestTimeoutMS <= 0 {
		return errors.New("synthesize.request_timeout_ms must be positive")
	}
	if err := validateRetry("synthesize", cfg.Synthesize.Retry); err != nil {
		return err
	}
	if cfg.Pipeline.ReorderTolerance < 0 {
		return errors.New("pipeline.reorder_tolerance must be >= 0")
	}
	if cfg.Pipeline.SilenceThreshold < 0 {
		return errors.New("pipeline.silence_threshold must be >= 0")
	}
	if cfg.Pipeline.SilenceWindowMS <= 0 {
		return errors.New("pipeline.silence_window_ms must be positive")
	}
	if cfg.Pipeline.MaxUtteranceBytes <= 0 {
		return errors.New("pipeline.max_utterance_bytes must be positive")
	}
	if cfg.Pipeline.MaxUtteranceMS <= 0 {
		return errors.New("pipeline.max_utterance_ms must be positive")
	}
	if cfg.Pipeline.OutboundBufferFrames <= 0 {
		return errors.New("pipeline.outbound_buffer_frames must be positive")
	}
	if cfg.Limits.MaxMessageBytes <= 0 {
		return errors.New("limits.max_message_bytes must be positive")
	}
	if cfg.Limits.MaxAudioBytes <= 0 {
		return errors.New("limits.max_audio_bytes must be positive")
	}
	return nil
}
