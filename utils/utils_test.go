package utils

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_PassesThroughWhileClosed(t *testing.T) {
	cb := NewCircuitBreaker("test")

	calls := 0
	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error {
			calls++
			return nil
		})
		assert.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test")

	boom := errors.New("boom")
	for i := 0; i < cb.threshold; i++ {
		err := cb.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	err := cb.Execute(func() error {
		t.Fatal("must not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "test")
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := NewCircuitBreaker("test")

	boom := errors.New("boom")
	for i := 0; i < cb.threshold-1; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	require.NoError(t, cb.Execute(func() error { return nil }))

	// The run restarted, so the next failures should not trip yet.
	for i := 0; i < cb.threshold-1; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestCircuitBreaker_ProbeClosesAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("test")
	cb.cooldown = 20 * time.Millisecond

	boom := errors.New("boom")
	for i := 0; i < cb.threshold; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)

	// First call after cooldown is allowed through as a probe.
	assert.NoError(t, cb.Execute(func() error { return nil }))
	// And the breaker is closed again.
	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("test")
	cb.cooldown = 20 * time.Millisecond

	boom := errors.New("boom")
	for i := 0; i < cb.threshold; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	time.Sleep(30 * time.Millisecond)

	require.ErrorIs(t, cb.Execute(func() error { return boom }), boom)

	err := cb.Execute(func() error {
		t.Fatal("must not run after failed probe")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestEncryptToken_RoundTrip(t *testing.T) {
	token, err := EncryptToken("ticket-123", "salt-a")
	require.NoError(t, err)
	assert.NotContains(t, token, "ticket-123")

	plaintext, err := DecryptToken(token, "salt-a")
	require.NoError(t, err)
	assert.Equal(t, "ticket-123", plaintext)
}

func TestDecryptToken_WrongSalt(t *testing.T) {
	token, err := EncryptToken("ticket-123", "salt-a")
	require.NoError(t, err)

	_, err = DecryptToken(token, "salt-b")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecryptToken_Garbage(t *testing.T) {
	for _, token := range []string{"", "short", "not!base64url!", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		_, err := DecryptToken(token, "salt-a")
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestGenerateCode(t *testing.T) {
	a, err := GenerateCode(16)
	require.NoError(t, err)
	b, err := GenerateCode(16)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToUpper(a), a)
}
