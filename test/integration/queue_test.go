//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmflow/notify/internal/domain/delivery"
	"github.com/farmflow/notify/internal/domain/webhook"
	pg "github.com/farmflow/notify/internal/repository/postgres"
)

func seedRegistration(t *testing.T, repo *pg.WebhookRepo) *webhook.Registration {
	t.Helper()
	reg := &webhook.Registration{
		ID:     uuid.New(),
		Name:   "it hook",
		URL:    "https://example.com/hook",
		Secret: "s3cr3t",
		Events: []string{"ticket.created"},
		Active: true,
	}
	require.NoError(t, repo.Create(context.Background(), reg))
	return reg
}

// Two workers claiming concurrently must split the queue: no row may be
// handed to both, and each pass hands out at most its batch size.
func TestConcurrentClaimersAreDisjoint(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	TruncateQueues(t, db)

	regs := pg.NewWebhookRepo(db)
	queue := pg.NewWebhookDeliveryRepo(db)
	reg := seedRegistration(t, regs)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		d := &delivery.WebhookDelivery{
			RegistrationID: reg.ID,
			Event:          "ticket.created",
			Payload:        json.RawMessage(`{"n":1}`),
			MaxAttempts:    3,
		}
		require.NoError(t, queue.Enqueue(ctx, d))
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	claimed := make(map[uuid.UUID]int)
	total := 0

	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := queue.ClaimBatch(ctx, 10)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			total += len(rows)
			for _, d := range rows {
				claimed[d.ID]++
				assert.Equal(t, delivery.StatusSending, d.Status)
				assert.Equal(t, 1, d.Attempts)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, total, 20)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "row %s claimed by more than one worker", id)
	}
}

func TestClaimSkipsFutureNextAttempt(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	TruncateQueues(t, db)

	regs := pg.NewWebhookRepo(db)
	queue := pg.NewWebhookDeliveryRepo(db)
	reg := seedRegistration(t, regs)

	ctx := context.Background()
	d := &delivery.WebhookDelivery{
		RegistrationID: reg.ID,
		Event:          "ticket.created",
		MaxAttempts:    3,
	}
	require.NoError(t, queue.Enqueue(ctx, d))

	rows, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// transient failure pushes next_attempt_at into the future
	status := 503
	require.NoError(t, queue.MarkFailure(ctx, d.ID, &status, "503", false, time.Now().Add(time.Hour)))

	rows, err = queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "row with future next_attempt_at must not be claimable")
}

func TestDuplicateRegistrationNameConflicts(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	TruncateQueues(t, db)

	regs := pg.NewWebhookRepo(db)
	seedRegistration(t, regs)

	dup := &webhook.Registration{
		ID:     uuid.New(),
		Name:   "it hook",
		URL:    "https://example.com/other",
		Secret: "s3cr3t",
		Events: []string{"ticket.created"},
		Active: true,
	}
	err := regs.Create(context.Background(), dup)
	require.ErrorIs(t, err, pg.ErrConflict)
}

// A worker that dies between claim and MarkSuccess/MarkFailure leaves
// its row in 'sending'. Once the claim TTL passes, another pass picks
// the row up again.
func TestStaleSendingRowIsReclaimed(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	TruncateQueues(t, db)

	regs := pg.NewWebhookRepo(db)
	queue := pg.NewWebhookDeliveryRepo(db).WithClaimTTL(time.Minute)
	reg := seedRegistration(t, regs)

	ctx := context.Background()
	d := &delivery.WebhookDelivery{
		RegistrationID: reg.ID,
		Event:          "ticket.created",
		MaxAttempts:    3,
	}
	require.NoError(t, queue.Enqueue(ctx, d))

	rows, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// a live claim is honored
	rows, err = queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "in-flight row must not be reclaimed before the TTL")

	// simulate the claimer dying: age the claim past the TTL
	_, err = db.Pool.Exec(ctx,
		`UPDATE webhook_deliveries SET updated_at = now() - interval '10 minutes' WHERE id = $1`, d.ID)
	require.NoError(t, err)

	rows, err = queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, d.ID, rows[0].ID)
	assert.Equal(t, delivery.StatusSending, rows[0].Status)
	assert.Equal(t, 2, rows[0].Attempts, "the reclaim counts as a fresh attempt")
}

// A stale 'sending' row with no attempts left cannot be re-claimed; the
// claim pass sweeps it to failed instead.
func TestStaleExhaustedRowIsSweptToFailed(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	TruncateQueues(t, db)

	regs := pg.NewWebhookRepo(db)
	queue := pg.NewWebhookDeliveryRepo(db).WithClaimTTL(time.Minute)
	reg := seedRegistration(t, regs)

	ctx := context.Background()
	d := &delivery.WebhookDelivery{
		RegistrationID: reg.ID,
		Event:          "ticket.created",
		MaxAttempts:    1,
	}
	require.NoError(t, queue.Enqueue(ctx, d))

	rows, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = db.Pool.Exec(ctx,
		`UPDATE webhook_deliveries SET updated_at = now() - interval '10 minutes' WHERE id = $1`, d.ID)
	require.NoError(t, err)

	rows, err = queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	var status, lastError string
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT status, last_error FROM webhook_deliveries WHERE id = $1`, d.ID).
		Scan(&status, &lastError))
	assert.Equal(t, "failed", status)
	assert.Equal(t, "claim expired", lastError)
}

func TestDeleteRegistrationCascadesToDeliveries(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	TruncateQueues(t, db)

	regs := pg.NewWebhookRepo(db)
	queue := pg.NewWebhookDeliveryRepo(db)
	reg := seedRegistration(t, regs)

	ctx := context.Background()
	d := &delivery.WebhookDelivery{
		RegistrationID: reg.ID,
		Event:          "ticket.created",
		MaxAttempts:    3,
	}
	require.NoError(t, queue.Enqueue(ctx, d))
	require.NoError(t, regs.Delete(ctx, reg.ID))

	var count int
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM webhook_deliveries WHERE registration_id = $1`, reg.ID).Scan(&count))
	assert.Zero(t, count, "delivery history must die with the registration")
}

func TestDeactivateKeepsDeliveryHistory(t *testing.T) {
	cfg := LoadCfg()
	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()
	TruncateQueues(t, db)

	regs := pg.NewWebhookRepo(db)
	queue := pg.NewWebhookDeliveryRepo(db)
	reg := seedRegistration(t, regs)

	ctx := context.Background()
	d := &delivery.WebhookDelivery{
		RegistrationID: reg.ID,
		Event:          "ticket.created",
		MaxAttempts:    3,
	}
	require.NoError(t, queue.Enqueue(ctx, d))
	require.NoError(t, regs.Deactivate(ctx, reg.ID))

	// history stays, but the row is no longer claimable
	var count int
	require.NoError(t, db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM webhook_deliveries WHERE registration_id = $1`, reg.ID).Scan(&count))
	assert.Equal(t, 1, count)

	rows, err := queue.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
