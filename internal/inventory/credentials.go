package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
)

// StaticCredentials serves per-account tokens loaded from configuration.
type StaticCredentials struct {
	clock clockwork.Clock
	mu    sync.RWMutex
	creds map[string]Credential
}

func NewStaticCredentials(clock clockwork.Clock) *StaticCredentials {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StaticCredentials{
		clock: clock,
		creds: make(map[string]Credential),
	}
}

func (s *StaticCredentials) Set(accountID string, cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[accountID] = cred
}

func (s *StaticCredentials) Credential(ctx context.Context, accountID string) (Credential, error) {
	s.mu.RLock()
	cred, ok := s.creds[accountID]
	s.mu.RUnlock()

	if !ok || cred.Token == "" {
		return Credential{}, fmt.Errorf("%w: no credential for account %s", ErrUpstreamUnavailable, accountID)
	}
	if !cred.Valid(s.clock.Now()) {
		return Credential{}, fmt.Errorf("%w: credential for account %s expired at %s",
			ErrUpstreamUnavailable, accountID, cred.ExpiresAt.Format("2006-01-02 15:04:05"))
	}
	return cred, nil
}

// NoCredentials is used by inventories that need no upstream token, such as
// ICMP probing.
type NoCredentials struct{}

func (NoCredentials) Credential(ctx context.Context, accountID string) (Credential, error) {
	return Credential{Token: "none"}, nil
}
