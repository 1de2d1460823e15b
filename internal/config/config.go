package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
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
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Store       StoreConfig     `yaml:"store"`
	Speech      SpeechConfig    `yaml:"speech"`
	TTS         TTSConfig       `yaml:"tts"`
	Download    DownloadConfig  `yaml:"download"`
	Status      StatusConfig    `yaml:"status"`
	View        ViewConfig      `yaml:"view"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
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

// NodeConfig identifies this widget on the bus. Presence is only announced
// when the bus is enabled.
type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// StoreConfig selects the key/value substrate notes persist into.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // memory, sqlite
	Path          string `yaml:"path"`
	MaxEntries    int    `yaml:"max_entries"`
	MaxBytes      int    `yaml:"max_bytes"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SpeechConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Mode             string `yaml:"mode"` // mock, exec, bus
	Command          string `yaml:"command"`
	Language         string `yaml:"language"`
	Continuous       bool   `yaml:"continuous"`
	SilenceTimeoutMS int    `yaml:"silence_timeout_ms"`
}

type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec, bus
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	SpoolDir   string `yaml:"spool_dir"`
}

type DownloadConfig struct {
	Directory string `yaml:"directory"`
	Filename  string `yaml:"filename"`
}

type StatusConfig struct {
	SlideMS int `yaml:"slide_ms"`
}

type ViewConfig struct {
	Watch bool `yaml:"watch"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-notes",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "notes-local",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			Path:       "./data/notes.db",
			MaxEntries: 0,
			MaxBytes:   5 * 1024 * 1024,
		},
		Speech: SpeechConfig{
			Enabled:          true,
			Mode:             "mock",
			Language:         "en-US",
			Continuous:       true,
			SilenceTimeoutMS: 5000,
		},
		TTS: TTSConfig{
			Enabled:    true,
			Mode:       "mock",
			Voice:      "en-US",
			SampleRate: 22050,
			Channels:   1,
			SpoolDir:   "./data/speech",
		},
		Download: DownloadConfig{
			Directory: ".",
			Filename:  "note.txt",
		},
		Status: StatusConfig{
			SlideMS: 500,
		},
		View: ViewConfig{
			Watch: true,
		},
	}
}

// Load reads path (optional) on top of Default, then applies .env and
// NOTES_* environment overrides.
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

	if err := loadDotenv(); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotenv populates unset variables from ./.env (or NOTES_ENV_FILE).
// Variables already present in the environment win.
func loadDotenv() error {
	file := ".env"
	if v, ok := os.LookupEnv("NOTES_ENV_FILE"); ok && strings.TrimSpace(v) != "" {
		file = v
	}
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NOTES_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NOTES_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NOTES_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NOTES_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NOTES_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NOTES_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NOTES_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NOTES_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "NOTES_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "NOTES_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NOTES_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "NOTES_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "NOTES_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NOTES_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NOTES_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NOTES_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NOTES_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NOTES_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "NOTES_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "NOTES_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "NOTES_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Store.Backend, "NOTES_STORE_BACKEND")
	overrideString(&cfg.Store.Path, "NOTES_STORE_PATH")
	overrideInt(&cfg.Store.MaxEntries, "NOTES_STORE_MAX_ENTRIES")
	overrideInt(&cfg.Store.MaxBytes, "NOTES_STORE_MAX_BYTES")
	overrideBool(&cfg.Store.VacuumOnStart, "NOTES_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Speech.Enabled, "NOTES_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "NOTES_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "NOTES_SPEECH_COMMAND")
	overrideString(&cfg.Speech.Language, "NOTES_SPEECH_LANGUAGE")
	overrideBool(&cfg.Speech.Continuous, "NOTES_SPEECH_CONTINUOUS")
	overrideInt(&cfg.Speech.SilenceTimeoutMS, "NOTES_SPEECH_SILENCE_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "NOTES_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "NOTES_TTS_MODE")
	overrideString(&cfg.TTS.Command, "NOTES_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "NOTES_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "NOTES_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "NOTES_TTS_CHANNELS")
	overrideString(&cfg.TTS.SpoolDir, "NOTES_TTS_SPOOL_DIR")
	overrideString(&cfg.Download.Directory, "NOTES_DOWNLOAD_DIRECTORY")
	overrideString(&cfg.Download.Filename, "NOTES_DOWNLOAD_FILENAME")
	overrideInt(&cfg.Status.SlideMS, "NOTES_STATUS_SLIDE_MS")
	overrideBool(&cfg.View.Watch, "NOTES_VIEW_WATCH")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty when the bus is enabled")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must exceed heartbeat_interval_ms")
		}
	}
	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			return errors.New("store.path must not be empty when backend=sqlite")
		}
	default:
		return errors.New("store.backend must be one of memory|sqlite")
	}
	if cfg.Store.MaxEntries < 0 {
		return errors.New("store.max_entries must be >= 0")
	}
	if cfg.Store.MaxBytes < 0 {
		return errors.New("store.max_bytes must be >= 0")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "exec", "bus":
		default:
			return errors.New("speech.mode must be one of mock|exec|bus")
		}
		if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
		if cfg.Speech.Mode == "bus" && !cfg.Bus.Enabled {
			return errors.New("speech.mode=bus requires bus.enabled")
		}
		if cfg.Speech.SilenceTimeoutMS <= 0 {
			return errors.New("speech.silence_timeout_ms must be positive")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec", "bus":
		default:
			return errors.New("tts.mode must be one of mock|exec|bus")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.Mode == "bus" && !cfg.Bus.Enabled {
			return errors.New("tts.mode=bus requires bus.enabled")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	if cfg.Download.Filename == "" {
		return errors.New("download.filename must not be empty")
	}
	if cfg.Status.SlideMS < 0 {
		return errors.New("status.slide_ms must be >= 0")
	}
	return nil
}
