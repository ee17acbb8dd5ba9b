package settings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	values map[string]string
	err    error
	reads  int
}

func (f *fakeSource) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestProviderCachesWithinTTL(t *testing.T) {
	src := &fakeSource{values: map[string]string{"email.smtp_enabled": "true"}}
	now := time.Unix(1000, 0)
	p := NewProvider(src, 30*time.Second, nil).WithClock(func() time.Time { return now })

	require.True(t, p.GetBool(context.Background(), "email.smtp_enabled", false))
	require.True(t, p.GetBool(context.Background(), "email.smtp_enabled", false))
	assert.Equal(t, 1, src.reads)

	// change upstream; stale read is still served inside the TTL
	src.values["email.smtp_enabled"] = "false"
	assert.True(t, p.GetBool(context.Background(), "email.smtp_enabled", false))

	now = now.Add(31 * time.Second)
	assert.False(t, p.GetBool(context.Background(), "email.smtp_enabled", true))
	assert.Equal(t, 2, src.reads)
}

func TestProviderFallsBackOnError(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	now := time.Unix(1000, 0)
	p := NewProvider(src, 10*time.Second, nil).WithClock(func() time.Time { return now })

	assert.Equal(t, 25, p.GetInt(context.Background(), "webhooks.batch_size", 25))
	// the miss is cached too; no hammering while the TTL holds
	assert.Equal(t, 25, p.GetInt(context.Background(), "webhooks.batch_size", 25))
	assert.Equal(t, 1, src.reads)
}

func TestProviderParsing(t *testing.T) {
	src := &fakeSource{values: map[string]string{
		"webhooks.timeout": "15s",
		"email.batch":      "40",
		"email.garbage":    "nope",
	}}
	p := NewProvider(src, time.Minute, nil)

	assert.Equal(t, 15*time.Second, p.GetDuration(context.Background(), "webhooks.timeout", time.Second))
	assert.Equal(t, 40, p.GetInt(context.Background(), "email.batch", 1))
	assert.Equal(t, 7, p.GetInt(context.Background(), "email.garbage", 7))
}
