// Package inventory is the device-inventory collaborator: it reports which
// devices an account has and whether each one is currently connected.
package inventory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUpstreamUnavailable = errors.New("inventory upstream unavailable")
	ErrDeviceNotFound      = errors.New("device not found")
)

// Device is one inventory entry. Err is set when the upstream listed the
// device but could not report its connectivity.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Address   string `json:"address,omitempty"`
	Connected bool   `json:"connected"`
	Err       error  `json:"-"`
}

type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential can be used at t. A zero ExpiresAt
// never expires.
func (c Credential) Valid(t time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || t.Before(c.ExpiresAt)
}

type Inventory interface {
	ListDevices(ctx context.Context, cred Credential) ([]Device, error)
	GetDevice(ctx context.Context, cred Credential, id string) (*Device, error)
}

type CredentialSource interface {
	Credential(ctx context.Context, accountID string) (Credential, error)
}
