package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxTenantNameLen = 100

// Tenant owns investigations and lessons. Every store query is scoped by
// tenant, so one tenant never sees another's chronicles.
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewTenant validates the name and returns a tenant ready to be stored.
func NewTenant(name, apiKeyHash string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}
	if utf8.RuneCountInString(name) > MaxTenantNameLen {
		return nil, &ValidationError{Field: "name", Message: "is too long"}
	}
	return &Tenant{Name: name, APIKeyHash: apiKeyHash}, nil
}
