package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"gopkg.in/yaml.v3"
)

// Roster is the ordered list of specialist agents. Dispatch follows file order.
type Roster struct {
	Agents []domain.AgentDefinition `yaml:"agents"`
}

// LoadRoster reads the roster at path, or returns the built-in roster when
// path is empty.
func LoadRoster(path string) (*Roster, error) {
	if path == "" {
		return DefaultRoster(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes and validates a YAML roster. Unknown keys are rejected
// so a misspelt setting does not silently fall back to a default.
func ParseRoster(data []byte) (*Roster, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Roster
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Roster) Validate() error {
	if len(r.Agents) == 0 {
		return &domain.ValidationError{Field: "agents", Message: "roster has no agents"}
	}
	seen := make(map[string]bool, len(r.Agents))
	for i := range r.Agents {
		a := &r.Agents[i]
		a.Name = strings.TrimSpace(a.Name)
		if a.Domain == "" {
			a.Domain = a.Name
		}
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.Name] {
			return &domain.ValidationError{Field: "agent.name", Message: "duplicate agent " + a.Name}
		}
		seen[a.Name] = true
	}
	return nil
}

// Names returns agent names in dispatch order.
func (r *Roster) Names() []string {
	names := make([]string, len(r.Agents))
	for i, a := range r.Agents {
		names[i] = a.Name
	}
	return names
}

// DefaultRoster covers the four domains most incidents touch.
func DefaultRoster() *Roster {
	return &Roster{Agents: []domain.AgentDefinition{
		{
			AgentSettings: domain.AgentSettings{Name: "database", Domain: "database", MinConfidence: 0.7},
			Queries: []domain.QueryTemplate{
				{Name: "connection_pool", Source: "metrics", Expr: `db_pool_utilization{service="{service}"}`, Description: "connection pool saturation"},
				{Name: "slow_queries", Source: "logs", Expr: `slow_query{service="{service}"}`, Description: "slow query log volume"},
				{Name: "replication_lag", Source: "metrics", Expr: `db_replication_lag_seconds{service="{service}"}`, Description: "replica lag"},
				{Name: "schema_changes", Source: "events", Expr: `migrations{service="{service}"}`, Description: "recent migrations"},
			},
			Checks: []domain.CheckTemplate{
				{
					Name:        "pool_saturation",
					Source:      "metrics",
					Expr:        `max_over_time(db_pool_utilization{service="{service}"})`,
					Description: "If the pool were exhausted, utilization must have reached its ceiling during the incident window.",
					Keywords:    []string{"pool", "connection"},
				},
				{
					Name:        "lock_wait",
					Source:      "metrics",
					Expr:        `db_lock_wait_seconds{service="{service}"}`,
					Description: "If lock contention caused the symptoms, lock wait time must rise before latency does.",
					Keywords:    []string{"lock", "deadlock", "contention"},
				},
			},
		},
		{
			AgentSettings: domain.AgentSettings{Name: "network", Domain: "network"},
			Queries: []domain.QueryTemplate{
				{Name: "dns_latency", Source: "metrics", Expr: `dns_lookup_seconds{service="{service}"}`},
				{Name: "tcp_retransmits", Source: "metrics", Expr: `tcp_retransmits_total{service="{service}"}`},
				{Name: "upstream_errors", Source: "traces", Expr: `errors_by_peer{service="{service}"}`},
			},
			Checks: []domain.CheckTemplate{
				{
					Name:        "packet_loss",
					Source:      "metrics",
					Expr:        `packet_loss_ratio{service="{service}"}`,
					Description: "If the network degraded, packet loss or retransmits must rise on every affected path.",
					Keywords:    []string{"network", "packet", "dns", "latency"},
				},
			},
		},
		{
			AgentSettings: domain.AgentSettings{Name: "application", Domain: "application"},
			Queries: []domain.QueryTemplate{
				{Name: "error_rate", Source: "metrics", Expr: `http_error_ratio{service="{service}"}`},
				{Name: "exceptions", Source: "logs", Expr: `exceptions{service="{service}"}`},
				{Name: "deploys", Source: "events", Expr: `deploys{service="{service}"}`},
				{Name: "slow_spans", Source: "traces", Expr: `slowest_spans{service="{service}"}`},
			},
			Checks: []domain.CheckTemplate{
				{
					Name:        "deploy_correlation",
					Source:      "events",
					Expr:        `deploys{service="{service}"}`,
					Description: "If a release caused the symptoms, a deploy must precede onset and a rollback must improve them.",
					Keywords:    []string{"deploy", "release", "regression", "bug"},
				},
			},
		},
		{
			AgentSettings: domain.AgentSettings{Name: "infrastructure", Domain: "infrastructure", Timeout: 90 * time.Second},
			Queries: []domain.QueryTemplate{
				{Name: "cpu", Source: "metrics", Expr: `cpu_utilization{service="{service}"}`},
				{Name: "memory", Source: "metrics", Expr: `memory_working_set{service="{service}"}`},
				{Name: "restarts", Source: "events", Expr: `pod_restarts{service="{service}"}`},
			},
			Checks: []domain.CheckTemplate{
				{
					Name:        "resource_saturation",
					Source:      "metrics",
					Expr:        `saturation{service="{service}",systems="{systems}"}`,
					Description: "If resource exhaustion caused the symptoms, the affected hosts must show saturation while the others do not.",
					Keywords:    []string{"cpu", "memory", "disk", "oom", "node", "host"},
				},
			},
		},
	}}
}
