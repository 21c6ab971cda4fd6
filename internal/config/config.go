package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/joho/godotenv"
)

// Load reads the .env file specified by INQUEST_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("INQUEST_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// missing files are fine; the process environment still applies
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

// envDuration accepts Go duration strings ("90s") or plain seconds ("90").
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func ServerPort() int {
	return envInt("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DatabaseURL is optional. Without it chronicles live in memory and the
// lesson index is disabled.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func CerebrasAPIKey() string {
	return os.Getenv("CEREBRAS_API_KEY")
}

// LLMProvider returns the configured reasoning provider.
// Valid values: openai, anthropic, gemini, cerebras, mock
func LLMProvider() string {
	return envString("LLM_PROVIDER", "openai")
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: openai, mock, none
func EmbeddingProvider() string {
	return envString("EMBEDDING_PROVIDER", "openai")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "cerebras":
		return CerebrasAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock", "none":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// DataSourceBaseURL points at the metrics/logs/traces/events query backend.
func DataSourceBaseURL() string {
	return os.Getenv("DATASOURCE_BASE_URL")
}

// DataSourceFixtures is a YAML fixture file used instead of a live backend.
func DataSourceFixtures() string {
	return os.Getenv("DATASOURCE_FIXTURES")
}

func DataSourceTimeout() time.Duration {
	return envDuration("DATASOURCE_TIMEOUT", 30*time.Second)
}

// DataSourceQueryCost is charged per query when the backend does not price it.
func DataSourceQueryCost() float64 {
	return envFloat("DATASOURCE_QUERY_COST", 0.01)
}

// RosterPath is the agent roster file. Empty means the built-in roster.
func RosterPath() string {
	return os.Getenv("ROSTER_PATH")
}

func MigrationsPath() string {
	return envString("MIGRATIONS_PATH", "migrations")
}

// InvestigationDefaults returns the limits applied to investigations that do
// not override them.
func InvestigationDefaults() domain.InvestigationConfig {
	return domain.InvestigationConfig{
		Budget:              envFloat("INVESTIGATION_BUDGET", domain.DefaultInvestigationBudget),
		AgentBudget:         envFloat("AGENT_BUDGET", domain.DefaultAgentBudget),
		MinConfidence:       envFloat("MIN_CONFIDENCE", domain.DefaultMinConfidence),
		MaxDisproofAttempts: envInt("MAX_DISPROOF_ATTEMPTS", domain.DefaultMaxDisproofAttempts),
		AgentTimeout:        envDuration("AGENT_TIMEOUT", domain.DefaultAgentTimeout),
		Deadline:            envDuration("INVESTIGATION_DEADLINE", domain.DefaultDeadline),
		MaxRounds:           envInt("MAX_ROUNDS", domain.DefaultMaxRounds),
		Lookback:            envDuration("LOOKBACK", domain.DefaultLookback),
	}
}

// ContextMaxDisproven caps how many disproven hypotheses the constraint
// context lists before truncating.
func ContextMaxDisproven() int {
	return envInt("CONTEXT_MAX_DISPROVEN", 20)
}

func ContextMaxConstraints() int {
	return envInt("CONTEXT_MAX_CONSTRAINTS", 50)
}

func ContextMaxChars() int {
	return envInt("CONTEXT_MAX_CHARS", 8000)
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	return envFloat("RATE_LIMIT_RPS", 100)
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return envInt("RATE_LIMIT_BURST", 20)
}

// LogLevel returns the log level (debug, info, warn, error).
func LogLevel() string {
	return envString("LOG_LEVEL", "info")
}

// BootstrapAPIKey, when set, provisions a "default" tenant with this key at
// startup. It exists for single-tenant deployments and local runs.
func BootstrapAPIKey() string {
	return os.Getenv("INQUEST_API_KEY")
}

// ShutdownTimeout bounds how long the server waits for running
// investigations to checkpoint.
func ShutdownTimeout() time.Duration {
	return envDuration("SHUTDOWN_TIMEOUT", 15*time.Second)
}

// ChronicleRetention is how long finished chronicles are kept. Zero keeps
// them forever.
func ChronicleRetention() time.Duration {
	days := envInt("CHRONICLE_RETENTION_DAYS", 0)
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
