package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinledger/internal/outbox"
	"kinledger/internal/outbox/store"
	"kinledger/internal/platform/kafka"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

type capturePublisher struct {
	fail error
	got  []kafka.Message
}

func (p *capturePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	if p.fail != nil {
		return p.fail
	}
	p.got = append(p.got, msgs...)
	return nil
}

func TestWriterRollsBackWithTransaction(t *testing.T) {
	st := store.NewInMemory()
	runner := txcontext.NewMemoryRunner()
	w := outbox.NewWriter(st, "events", "alerts")

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, w.Emit(ctx, "payout.created", "p1", map[string]int{"amount_cents": 100}))
		return errors.New("business failure")
	})
	require.Error(t, err)
	assert.Empty(t, st.Messages())
}

func TestWorkerFlush(t *testing.T) {
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	st := store.NewInMemory()
	runner := txcontext.NewMemoryRunner()
	w := outbox.NewWriter(st, "events", "alerts")
	require.NoError(t, w.Emit(ctx, "payout.created", "p1", map[string]int{"amount_cents": 100}))
	later := requestcontext.WithTime(context.Background(), time.Date(2026, 5, 1, 0, 0, 1, 0, time.UTC))
	require.NoError(t, w.Alert(later, "reconciliation.orphan_expired", "o1", map[string]string{"provider": "stripe"}))

	pub := &capturePublisher{fail: errors.New("broker down")}
	worker := outbox.NewWorker(st, runner, pub, outbox.WithWorkerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	sent, err := worker.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	for _, m := range st.Messages() {
		assert.Nil(t, m.PublishedAt)
		assert.Equal(t, 1, m.Attempts)
	}

	pub.fail = nil
	sent, err = worker.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, pub.got, 2)
	assert.Equal(t, "events", pub.got[0].Topic)
	assert.Equal(t, "payout.created", pub.got[0].Headers["event_type"])
	assert.Equal(t, "alerts", pub.got[1].Topic)

	var env struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(pub.got[0].Value, &env))
	assert.Equal(t, "payout.created", env.Type)
	assert.Equal(t, 100, env.Data["amount_cents"])

	sent, err = worker.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent, "published messages are not sent again")
}
