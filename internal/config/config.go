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
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	World        WorldConfig        `yaml:"world"`
	Conversation ConversationConfig `yaml:"conversation"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Cache        CacheConfig        `yaml:"cache"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Service      ServiceConfig      `yaml:"service"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// WorldConfig points at the static world documents. Either file may be absent.
type WorldConfig struct {
	CharactersPath string `yaml:"characters_path"`
	SettingsPath   string `yaml:"settings_path"`
}

type ConversationConfig struct {
	WindowSize         int `yaml:"window_size"`
	MaxCharacterBriefs int `yaml:"max_character_briefs"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // gemini, ollama, exec, mock
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Mode          string            `yaml:"mode"` // elevenlabs, exec, mock
	APIKey        string            `yaml:"api_key"`
	Endpoint      string            `yaml:"endpoint"`
	ModelID       string            `yaml:"model_id"`
	Command       string            `yaml:"command"`
	Format        string            `yaml:"format"`
	NarratorVoice string            `yaml:"narrator_voice"`
	DefaultVoice  string            `yaml:"default_voice"`
	VoicePool     []string          `yaml:"voice_pool"`
	Voices        map[string]string `yaml:"voices"`
	TimeoutMS     int               `yaml:"timeout_ms"`
}

type CacheConfig struct {
	Directory     string `yaml:"directory"`
	MemoryEntries int    `yaml:"memory_entries"`
}

type CatalogConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, unbounded, bounded
	RetentionDays int    `yaml:"retention_days"`
	MaxArtifacts  int    `yaml:"max_artifacts"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ServiceConfig struct {
	Enabled        bool   `yaml:"enabled"`
	RequestSubject string `yaml:"request_subject"`
	EventSubject   string `yaml:"event_subject"`
}

func Default() Config {
	return Config{
		RuntimeName: "fateweaver",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    8050,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		World: WorldConfig{
			CharactersPath: "characters.json",
			SettingsPath:   "setting.json",
		},
		Conversation: ConversationConfig{
			WindowSize:         20,
			MaxCharacterBriefs: 60,
		},
		LLM: LLMConfig{
			Mode:        "gemini",
			Model:       "gemini-2.5-flash",
			Endpoint:    "http://localhost:11434",
			MaxTokens:   512,
			Temperature: 0.8,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Enabled:       true,
			Mode:          "elevenlabs",
			Endpoint:      "https://api.elevenlabs.io/v1",
			ModelID:       "eleven_v3",
			Format:        "mp3",
			NarratorVoice: "JBFqnCBsd6RMkjVDRZzb",
			DefaultVoice:  "JBFqnCBsd6RMkjVDRZzb",
			TimeoutMS:     120000,
		},
		Cache: CacheConfig{
			Directory:     "./assets",
			MemoryEntries: 128,
		},
		Catalog: CatalogConfig{
			Path:          "./data/fateweaver-audio.db",
			RetentionMode: "unbounded",
		},
		Service: ServiceConfig{
			Enabled:        true,
			RequestSubject: "fateweaver.turn.request",
			EventSubject:   "fateweaver.turn.completed",
		},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
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
	overrideString(&cfg.RuntimeName, "FATEWEAVER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FATEWEAVER_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "FATEWEAVER_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "FATEWEAVER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FATEWEAVER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FATEWEAVER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FATEWEAVER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FATEWEAVER_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "FATEWEAVER_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "FATEWEAVER_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "FATEWEAVER_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "FATEWEAVER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FATEWEAVER_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "FATEWEAVER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FATEWEAVER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FATEWEAVER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FATEWEAVER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FATEWEAVER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FATEWEAVER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.World.CharactersPath, "FATEWEAVER_WORLD_CHARACTERS_PATH")
	overrideString(&cfg.World.SettingsPath, "FATEWEAVER_WORLD_SETTINGS_PATH")
	overrideInt(&cfg.Conversation.WindowSize, "FATEWEAVER_CONVERSATION_WINDOW_SIZE")
	overrideInt(&cfg.Conversation.MaxCharacterBriefs, "FATEWEAVER_CONVERSATION_MAX_CHARACTER_BRIEFS")
	overrideString(&cfg.LLM.Mode, "FATEWEAVER_LLM_MODE")
	overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "FATEWEAVER_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "GEMINI_MODEL")
	overrideString(&cfg.LLM.Model, "FATEWEAVER_LLM_MODEL")
	overrideString(&cfg.LLM.Endpoint, "FATEWEAVER_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "FATEWEAVER_LLM_COMMAND")
	overrideInt(&cfg.LLM.MaxTokens, "FATEWEAVER_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "FATEWEAVER_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "FATEWEAVER_LLM_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "FATEWEAVER_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "FATEWEAVER_TTS_MODE")
	overrideString(&cfg.TTS.APIKey, "ELEVEN_API_KEY")
	overrideString(&cfg.TTS.APIKey, "FATEWEAVER_TTS_API_KEY")
	overrideString(&cfg.TTS.Endpoint, "FATEWEAVER_TTS_ENDPOINT")
	overrideString(&cfg.TTS.ModelID, "FATEWEAVER_TTS_MODEL_ID")
	overrideString(&cfg.TTS.Command, "FATEWEAVER_TTS_COMMAND")
	overrideString(&cfg.TTS.Format, "FATEWEAVER_TTS_FORMAT")
	overrideString(&cfg.TTS.NarratorVoice, "FATEWEAVER_TTS_NARRATOR_VOICE")
	overrideString(&cfg.TTS.DefaultVoice, "FATEWEAVER_TTS_DEFAULT_VOICE")
	overrideStringSlice(&cfg.TTS.VoicePool, "FATEWEAVER_TTS_VOICE_POOL")
	overrideInt(&cfg.TTS.TimeoutMS, "FATEWEAVER_TTS_TIMEOUT_MS")
	overrideString(&cfg.Cache.Directory, "FATEWEAVER_CACHE_DIRECTORY")
	overrideInt(&cfg.Cache.MemoryEntries, "FATEWEAVER_CACHE_MEMORY_ENTRIES")
	overrideString(&cfg.Catalog.Path, "FATEWEAVER_CATALOG_PATH")
	overrideString(&cfg.Catalog.RetentionMode, "FATEWEAVER_CATALOG_RETENTION_MODE")
	overrideInt(&cfg.Catalog.RetentionDays, "FATEWEAVER_CATALOG_RETENTION_DAYS")
	overrideInt(&cfg.Catalog.MaxArtifacts, "FATEWEAVER_CATALOG_MAX_ARTIFACTS")
	overrideBool(&cfg.Catalog.VacuumOnStart, "FATEWEAVER_CATALOG_VACUUM_ON_START")
	overrideBool(&cfg.Service.Enabled, "FATEWEAVER_SERVICE_ENABLED")
	overrideString(&cfg.Service.RequestSubject, "FATEWEAVER_SERVICE_REQUEST_SUBJECT")
	overrideString(&cfg.Service.EventSubject, "FATEWEAVER_SERVICE_EVENT_SUBJECT")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Service.Enabled && cfg.Bus.Enabled && cfg.Service.RequestSubject == "" {
		return errors.New("service.request_subject must not be empty")
	}
	if cfg.Conversation.WindowSize <= 0 {
		return errors.New("conversation.window_size must be positive")
	}
	if cfg.Conversation.MaxCharacterBriefs <= 0 {
		return errors.New("conversation.max_character_briefs must be positive")
	}

	switch cfg.LLM.Mode {
	case "gemini":
		if strings.TrimSpace(cfg.LLM.APIKey) == "" {
			return errors.New("llm.api_key must be set when mode=gemini (GEMINI_API_KEY)")
		}
		if cfg.LLM.Model == "" {
			return errors.New("llm.model must be set when mode=gemini")
		}
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("llm.mode must be one of gemini|ollama|exec|mock")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.TimeoutMS <= 0 {
		return errors.New("llm.timeout_ms must be positive")
	}

	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "elevenlabs":
			if strings.TrimSpace(cfg.TTS.APIKey) == "" {
				return errors.New("tts.api_key must be set when mode=elevenlabs (ELEVEN_API_KEY)")
			}
			if cfg.TTS.Endpoint == "" {
				return errors.New("tts.endpoint must be set when mode=elevenlabs")
			}
		case "exec":
			if cfg.TTS.Command == "" {
				return errors.New("tts.command must be set when mode=exec")
			}
		case "mock":
		default:
			return errors.New("tts.mode must be one of elevenlabs|exec|mock")
		}
		if cfg.TTS.NarratorVoice == "" && cfg.TTS.DefaultVoice == "" {
			return errors.New("tts.narrator_voice or tts.default_voice must be set")
		}
		if cfg.TTS.TimeoutMS <= 0 {
			return errors.New("tts.timeout_ms must be positive")
		}
		if cfg.Cache.Directory == "" {
			return errors.New("cache.directory must not be empty when tts is enabled")
		}
	}

	switch cfg.Catalog.RetentionMode {
	case "ephemeral":
	case "unbounded", "bounded":
		if cfg.Catalog.Path == "" {
			return errors.New("catalog.path must not be empty")
		}
	default:
		return errors.New("catalog.retention_mode must be one of ephemeral|unbounded|bounded")
	}
	if cfg.Catalog.RetentionDays < 0 {
		return errors.New("catalog.retention_days must be >= 0")
	}
	if cfg.Catalog.MaxArtifacts < 0 {
		return errors.New("catalog.max_artifacts must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
