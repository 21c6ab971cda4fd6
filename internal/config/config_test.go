package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvestigationDefaults(t *testing.T) {
	t.Setenv("INVESTIGATION_BUDGET", "25")
	t.Setenv("AGENT_BUDGET", "not-a-number")
	t.Setenv("AGENT_TIMEOUT", "45")
	t.Setenv("INVESTIGATION_DEADLINE", "10m")
	t.Setenv("MAX_ROUNDS", "-2")

	cfg := InvestigationDefaults()

	assert.Equal(t, 25.0, cfg.Budget)
	assert.Equal(t, domain.DefaultAgentBudget, cfg.AgentBudget)
	assert.Equal(t, 45*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Deadline)
	assert.Equal(t, domain.DefaultMaxRounds, cfg.MaxRounds)
	require.NoError(t, cfg.Validate())
}

func TestChronicleRetention(t *testing.T) {
	t.Setenv("CHRONICLE_RETENTION_DAYS", "")
	assert.Zero(t, ChronicleRetention())

	t.Setenv("CHRONICLE_RETENTION_DAYS", "30")
	assert.Equal(t, 30*24*time.Hour, ChronicleRetention())

	t.Setenv("CHRONICLE_RETENTION_DAYS", "-1")
	assert.Zero(t, ChronicleRetention())
}

func TestLLMAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("CEREBRAS_API_KEY", "csk-cerebras")

	tests := []struct {
		provider string
		want     string
	}{
		{"", "sk-openai"},
		{"cerebras", "csk-cerebras"},
		{"mock", ""},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Setenv("LLM_PROVIDER", tt.provider)
			assert.Equal(t, tt.want, LLMAPIKey())
		})
	}
}

func TestLoad_ReadsEnvFileAndSecret(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("INQUEST_TEST_PORT_HINT=9090\n"), 0o600))
	require.NoError(t, os.WriteFile(envFile+".secret", []byte("INQUEST_TEST_SECRET=shh\n"), 0o600))
	t.Setenv("INQUEST_ENV", envFile)
	t.Cleanup(func() {
		_ = os.Unsetenv("INQUEST_TEST_PORT_HINT")
		_ = os.Unsetenv("INQUEST_TEST_SECRET")
	})

	require.NoError(t, Load())
	assert.Equal(t, "9090", os.Getenv("INQUEST_TEST_PORT_HINT"))
	assert.Equal(t, "shh", os.Getenv("INQUEST_TEST_SECRET"))
}

func TestDefaultRoster(t *testing.T) {
	r := DefaultRoster()
	require.NoError(t, r.Validate())
	assert.Equal(t, []string{"database", "network", "application", "infrastructure"}, r.Names())
}

func TestParseRoster(t *testing.T) {
	data := []byte(`
agents:
  - name: cache
    budget: 4
    timeout: 30s
    min_confidence: 0.8
    queries:
      - name: hit_ratio
        source: metrics
        expr: cache_hit_ratio{service="{service}"}
    checks:
      - name: eviction_storm
        source: metrics
        expr: evictions{service="{service}"}
        description: If evictions caused the misses, eviction rate must spike first.
        keywords: [cache, eviction]
  - name: queue
    domain: messaging
    queries:
      - source: metrics
        expr: queue_depth{service="{service}"}
`)

	r, err := ParseRoster(data)
	require.NoError(t, err)
	require.Len(t, r.Agents, 2)

	cache := r.Agents[0]
	assert.Equal(t, "cache", cache.Domain)
	assert.Equal(t, 4.0, cache.Budget)
	assert.Equal(t, 30*time.Second, cache.Timeout)
	assert.Equal(t, 0.8, cache.MinConfidence)
	require.Len(t, cache.Checks, 1)
	assert.Equal(t, []string{"cache", "eviction"}, cache.Checks[0].Keywords)
	assert.Equal(t, "messaging", r.Agents[1].Domain)
}

func TestParseRoster_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ``},
		{"unknown key", "agents:\n  - name: db\n    budgett: 3\n    queries: [{source: metrics, expr: up}]\n"},
		{"no queries", "agents:\n  - name: db\n"},
		{"duplicate", "agents:\n  - name: db\n    queries: [{source: metrics, expr: up}]\n  - name: db\n    queries: [{source: logs, expr: errors}]\n"},
		{"bad threshold", "agents:\n  - name: db\n    min_confidence: 1.5\n    queries: [{source: metrics, expr: up}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoster([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRoster(t *testing.T) {
	r, err := LoadRoster("")
	require.NoError(t, err)
	assert.Len(t, r.Agents, 4)

	_, err = LoadRoster(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read roster")
}
