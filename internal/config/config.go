package config

import (
	"errors"
	"fmt"
	"io/ioutil"
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

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Synth       SynthConfig     `yaml:"synth"`
	LLM         LLMConfig       `yaml:"llm"`
	Paper       PaperConfig     `yaml:"paper"`
	Jobs        JobsConfig      `yaml:"jobs"`
	Probe       ProbeConfig     `yaml:"probe"`
	Voices      VoicesConfig    `yaml:"voices"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	SweepInterval int    `yaml:"sweep_interval_min"`
	AudioTTLMin   int    `yaml:"audio_ttl_min"`
	PaperTTLHours int    `yaml:"paper_ttl_hours"`
	TopicTTLHours int    `yaml:"topic_ttl_hours"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Local          bool    `yaml:"local"`
	LocalCommand   string  `yaml:"local_command"`
	LocalVoice     string  `yaml:"local_voice"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffBase    float64 `yaml:"backoff_base"`
	Voice          string  `yaml:"voice"`
	DefaultSpeaker string  `yaml:"default_speaker"`
	VoiceA         string  `yaml:"voice_a"`
	VoiceB         string  `yaml:"voice_b"`
	PauseMS        int     `yaml:"pause_ms"`
	MaxChunkChars  int     `yaml:"max_chunk_chars"`
	MaxConcurrency int     `yaml:"max_concurrency"`
}

type LLMConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Mode            string  `yaml:"mode"` // mock, http, exec
	Endpoint        string  `yaml:"endpoint"`
	APIKey          string  `yaml:"api_key"`
	SubscriptionKey string  `yaml:"subscription_key"`
	Command         string  `yaml:"command"`
	Model           string  `yaml:"model"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	TimeoutMS       int     `yaml:"timeout_ms"`
}

type PaperConfig struct {
	DataDir         string `yaml:"data_dir"`
	ExtractCommand  string `yaml:"extract_command"`
	InfoCommand     string `yaml:"info_command"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
	EnrichMetadata  bool   `yaml:"enrich_metadata"`
	UnpaywallEmail  string `yaml:"unpaywall_email"`
	LookupTimeoutMS int    `yaml:"lookup_timeout_ms"`
}

type JobsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	QueueGroup string `yaml:"queue_group"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type ProbeConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
	TimeoutMS  int  `yaml:"timeout_ms"`
}

type VoicesConfig struct {
	Manifest string `yaml:"manifest"`
}

func Default() Config {
	return Config{
		ServiceName: "lectern",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/lectern.db",
			SweepInterval: 60,
			AudioTTLMin:   60,
			PaperTTLHours: 24,
			TopicTTLHours: 24,
		},
		Synth: SynthConfig{
			BaseURL:        "http://localhost:5002",
			Local:          false,
			LocalCommand:   "espeak-ng",
			LocalVoice:     "en-gb",
			TimeoutMS:      120000,
			MaxAttempts:    3,
			BackoffBase:    1.5,
			Voice:          "coqui-tts:en_vctk",
			DefaultSpeaker: "",
			VoiceA:         "p228",
			VoiceB:         "p316",
			PauseMS:        300,
			MaxChunkChars:  6000,
			MaxConcurrency: 4,
		},
		LLM: LLMConfig{
			Enabled:     true,
			Mode:        "http",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   2048,
			Temperature: 0.7,
			TimeoutMS:   120000,
		},
		Paper: PaperConfig{
			DataDir:         "./data/papers",
			ExtractCommand:  "pdftotext",
			InfoCommand:     "pdfinfo",
			MaxUploadMB:     50,
			EnrichMetadata:  true,
			LookupTimeoutMS: 10000,
		},
		Jobs: JobsConfig{
			Enabled:    true,
			QueueGroup: "lectern-workers",
			TimeoutMS:  600000,
		},
		Probe: ProbeConfig{
			Enabled:    true,
			IntervalMS: 15000,
			TimeoutMS:  5000,
		},
		Voices: VoicesConfig{
			Manifest: "",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
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
	overrideString(&cfg.ServiceName, "LECTERN_SERVICE_NAME")
	overrideString(&cfg.Environment, "LECTERN_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LECTERN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LECTERN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LECTERN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LECTERN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LECTERN_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LECTERN_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LECTERN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LECTERN_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LECTERN_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LECTERN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LECTERN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LECTERN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LECTERN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LECTERN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LECTERN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LECTERN_STORE_PATH")
	overrideInt(&cfg.Store.SweepInterval, "LECTERN_STORE_SWEEP_INTERVAL_MIN")
	overrideInt(&cfg.Store.AudioTTLMin, "LECTERN_STORE_AUDIO_TTL_MIN")
	overrideInt(&cfg.Store.PaperTTLHours, "LECTERN_STORE_PAPER_TTL_HOURS")
	overrideInt(&cfg.Store.TopicTTLHours, "LECTERN_STORE_TOPIC_TTL_HOURS")
	overrideBool(&cfg.Store.VacuumOnStart, "LECTERN_STORE_VACUUM_ON_START")
	overrideString(&cfg.Synth.BaseURL, "LECTERN_SYNTH_BASE_URL")
	overrideBool(&cfg.Synth.Local, "LECTERN_SYNTH_LOCAL")
	overrideString(&cfg.Synth.LocalCommand, "LECTERN_SYNTH_LOCAL_COMMAND")
	overrideString(&cfg.Synth.LocalVoice, "LECTERN_SYNTH_LOCAL_VOICE")
	overrideInt(&cfg.Synth.TimeoutMS, "LECTERN_SYNTH_TIMEOUT_MS")
	overrideInt(&cfg.Synth.MaxAttempts, "LECTERN_SYNTH_MAX_ATTEMPTS")
	overrideFloat(&cfg.Synth.BackoffBase, "LECTERN_SYNTH_BACKOFF_BASE")
	overrideString(&cfg.Synth.Voice, "LECTERN_SYNTH_VOICE")
	overrideString(&cfg.Synth.DefaultSpeaker, "LECTERN_SYNTH_DEFAULT_SPEAKER")
	overrideString(&cfg.Synth.VoiceA, "LECTERN_SYNTH_VOICE_A")
	overrideString(&cfg.Synth.VoiceB, "LECTERN_SYNTH_VOICE_B")
	overrideInt(&cfg.Synth.PauseMS, "LECTERN_SYNTH_PAUSE_MS")
	overrideInt(&cfg.Synth.MaxChunkChars, "LECTERN_SYNTH_MAX_CHUNK_CHARS")
	overrideInt(&cfg.Synth.MaxConcurrency, "LECTERN_SYNTH_MAX_CONCURRENCY")
	overrideBool(&cfg.LLM.Enabled, "LECTERN_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "LECTERN_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LECTERN_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "LECTERN_LLM_API_KEY")
	overrideString(&cfg.LLM.SubscriptionKey, "LECTERN_LLM_SUBSCRIPTION_KEY")
	overrideString(&cfg.LLM.Command, "LECTERN_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "LECTERN_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "LECTERN_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LECTERN_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LECTERN_LLM_TIMEOUT_MS")
	overrideString(&cfg.Paper.DataDir, "LECTERN_PAPER_DATA_DIR")
	overrideString(&cfg.Paper.ExtractCommand, "LECTERN_PAPER_EXTRACT_COMMAND")
	overrideString(&cfg.Paper.InfoCommand, "LECTERN_PAPER_INFO_COMMAND")
	overrideInt(&cfg.Paper.MaxUploadMB, "LECTERN_PAPER_MAX_UPLOAD_MB")
	overrideBool(&cfg.Paper.EnrichMetadata, "LECTERN_PAPER_ENRICH_METADATA")
	overrideString(&cfg.Paper.UnpaywallEmail, "LECTERN_PAPER_UNPAYWALL_EMAIL")
	overrideInt(&cfg.Paper.LookupTimeoutMS, "LECTERN_PAPER_LOOKUP_TIMEOUT_MS")
	overrideBool(&cfg.Jobs.Enabled, "LECTERN_JOBS_ENABLED")
	overrideString(&cfg.Jobs.QueueGroup, "LECTERN_JOBS_QUEUE_GROUP")
	overrideInt(&cfg.Jobs.TimeoutMS, "LECTERN_JOBS_TIMEOUT_MS")
	overrideBool(&cfg.Probe.Enabled, "LECTERN_PROBE_ENABLED")
	overrideInt(&cfg.Probe.IntervalMS, "LECTERN_PROBE_INTERVAL_MS")
	overrideInt(&cfg.Probe.TimeoutMS, "LECTERN_PROBE_TIMEOUT_MS")
	overrideString(&cfg.Voices.Manifest, "LECTERN_VOICES_MANIFEST")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.SweepInterval < 0 {
		return errors.New("store.sweep_interval_min must be >= 0")
	}
	if cfg.Store.AudioTTLMin < 0 || cfg.Store.PaperTTLHours < 0 || cfg.Store.TopicTTLHours < 0 {
		return errors.New("store ttl values must be >= 0")
	}
	if cfg.Synth.MaxAttempts < 1 {
		return errors.New("synth.max_attempts must be >= 1")
	}
	if cfg.Synth.BackoffBase < 1 {
		return errors.New("synth.backoff_base must be >= 1")
	}
	if cfg.Synth.MaxChunkChars < 1 {
		return errors.New("synth.max_chunk_chars must be >= 1")
	}
	if cfg.Synth.MaxConcurrency < 1 {
		return errors.New("synth.max_concurrency must be >= 1")
	}
	if cfg.Synth.PauseMS < 0 {
		return errors.New("synth.pause_ms must be >= 0")
	}
	if cfg.Synth.Local && cfg.Synth.LocalCommand == "" {
		return errors.New("synth.local_command must be set when local mode is enabled")
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "http", "exec":
		default:
			return errors.New("llm.mode must be one of mock|http|exec")
		}
		if cfg.LLM.Mode == "http" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=http")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.Paper.DataDir == "" {
		return errors.New("paper.data_dir must not be empty")
	}
	if cfg.Paper.MaxUploadMB <= 0 {
		return errors.New("paper.max_upload_mb must be positive")
	}
	if cfg.Jobs.Enabled && cfg.Jobs.QueueGroup == "" {
		return errors.New("jobs.queue_group must not be empty when jobs are enabled")
	}
	if cfg.Probe.Enabled && cfg.Probe.IntervalMS <= 0 {
		return errors.New("probe.interval_ms must be positive when probe is enabled")
	}
	return nil
}
