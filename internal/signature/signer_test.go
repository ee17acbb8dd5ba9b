package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignFormat(t *testing.T) {
	sig := Sign("topsecret", []byte(`{"event":"ticket.created"}`))
	require.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, strings.TrimPrefix(sig, "sha256="), 64)
}

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"event":"ticket.created","data":{"id":7}}`)
	assert.Equal(t, Sign("k", body), Sign("k", body))
}

func TestVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"event":"inventory.low_stock","timestamp":"2025-01-02T03:04:05Z","data":{"item":"pellets"}}`)
	sig := Sign("shared", body)
	assert.True(t, Verify("shared", body, sig))
}

func TestVerifyRejectsBodyMutation(t *testing.T) {
	body := []byte(`{"event":"ticket.created","data":{"id":7}}`)
	sig := Sign("shared", body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, Verify("shared", mutated, sig), "mutation at byte %d accepted", i)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"event":"ticket.created"}`)
	sig := Sign("shared", body)
	assert.False(t, Verify("sharee", body, sig))
	assert.False(t, Verify("", body, sig))
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	body := []byte(`{}`)
	assert.False(t, Verify("shared", body, ""))
	assert.False(t, Verify("shared", body, "md5=abc"))
	assert.False(t, Verify("shared", body, strings.TrimPrefix(Sign("shared", body), "sha256=")))
}
