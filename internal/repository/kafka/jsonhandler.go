package kafka

import (
	"context"
	"encoding/json"
)

// JSONHandler decodes each message value into T before invoking handle.
// Malformed payloads surface as handler errors (logged, not committed).
func JSONHandler[T any](handle func(ctx context.Context, key []byte, msg *T) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var msg T
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		return handle(ctx, key, &msg)
	}
}
