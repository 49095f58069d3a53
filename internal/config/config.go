package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"wa-relay/internal/domain"
	"wa-relay/internal/usecase"
)

// Store backends.
const (
	BackendNone     = ""
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Secret parameter names, relative to ParamPrefix. Each one can be supplied
// directly through the environment variable paramstore.EnvName derives from it.
const (
	SecretVerifyToken    = "verify-token"
	SecretWhatsAppAPIKey = "whatsapp-api-key"
	SecretOpenAIAPIKey   = "openai-api-key"
)

const defaultDedupTTL = 24 * time.Hour

type Config struct {
	StoreBackend    string
	StateTable      string
	DatabaseURL     string
	ParamPrefix     string
	WABAID          string
	GenerationModel string
	OpenAIBaseURL   string
	GraphBaseURL    string
	HistoryOrder    usecase.HistoryOrder
	Persona         domain.Persona
	RedisURL        string
	DedupTTL        time.Duration
	LogLevel        slog.Level
}

// LoadDotEnv loads variables from the given files (".env" when none are
// given) without overriding the process environment. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration through lookup. A nil lookup reads the
// process environment.
func Load(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		StoreBackend:    strings.ToLower(get("STORE_BACKEND")),
		StateTable:      get("STATE_TABLE"),
		DatabaseURL:     get("DATABASE_URL"),
		ParamPrefix:     strings.TrimRight(get("PARAM_PREFIX"), "/"),
		WABAID:          get("WABA_ID"),
		GenerationModel: get("GENERATION_MODEL"),
		OpenAIBaseURL:   get("OPENAI_BASE_URL"),
		GraphBaseURL:    get("GRAPH_BASE_URL"),
		RedisURL:        get("REDIS_URL"),
		DedupTTL:        defaultDedupTTL,
		Persona:         domain.DefaultPersona,
	}

	if cfg.WABAID == "" {
		return Config{}, errors.New("config: WABA_ID is required")
	}

	switch cfg.StoreBackend {
	case BackendNone:
	case BackendDynamoDB:
		if cfg.StateTable == "" {
			return Config{}, errors.New("config: STATE_TABLE is required for the dynamodb store")
		}
	case BackendSQLite, BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("config: DATABASE_URL is required for the %s store", cfg.StoreBackend)
		}
	default:
		return Config{}, fmt.Errorf("config: unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	order, err := usecase.ParseHistoryOrder(get("HISTORY_ORDER"))
	if err != nil {
		return Config{}, fmt.Errorf("config: HISTORY_ORDER: %w", err)
	}
	cfg.HistoryOrder = order

	if v := get("DEDUP_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return Config{}, fmt.Errorf("config: invalid DEDUP_TTL %q", v)
		}
		cfg.DedupTTL = ttl
	}

	if v := get("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
		}
	}

	if p := get("PERSONA_FILE"); p != "" {
		persona, err := LoadPersona(p)
		if err != nil {
			return Config{}, err
		}
		cfg.Persona = persona
	}
	return cfg, nil
}

// SecretName returns the parameter store name for a secret.
func (c Config) SecretName(secret string) string {
	if c.ParamPrefix == "" {
		return secret
	}
	return c.ParamPrefix + "/" + secret
}

// LoadPersona reads a persona from a YAML file. Fields left out of the file
// keep their default values.
func LoadPersona(path string) (domain.Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Persona{}, fmt.Errorf("config: read persona: %w", err)
	}
	persona := domain.DefaultPersona
	if err := yaml.Unmarshal(raw, &persona); err != nil {
		return domain.Persona{}, fmt.Errorf("config: parse persona %s: %w", path, err)
	}
	if err := persona.Validate(); err != nil {
		return domain.Persona{}, fmt.Errorf("config: persona %s: %w", path, err)
	}
	return persona, nil
}
