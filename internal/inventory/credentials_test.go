package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCredentials(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC))
	creds := NewStaticCredentials(clock)
	ctx := context.Background()

	creds.Set("acme", Credential{Token: "abc", ExpiresAt: clock.Now().Add(time.Hour)})
	creds.Set("forever", Credential{Token: "xyz"})
	creds.Set("empty", Credential{})

	cred, err := creds.Credential(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "abc", cred.Token)

	_, err = creds.Credential(ctx, "empty")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = creds.Credential(ctx, "unknown")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	clock.Advance(2 * time.Hour)
	_, err = creds.Credential(ctx, "acme")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = creds.Credential(ctx, "forever")
	assert.NoError(t, err)
}

func TestNoCredentials(t *testing.T) {
	cred, err := NoCredentials{}.Credential(context.Background(), "lab")
	require.NoError(t, err)
	assert.True(t, cred.Valid(time.Now()))
}
