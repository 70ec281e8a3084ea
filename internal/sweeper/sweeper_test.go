package sweeper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telewake/relay-service/config"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/storage"
)

func seedEnvelope(t *testing.T, st *storage.SQLite, ts time.Time) {
	t.Helper()
	_, err := st.AppendEnvelope(context.Background(), model.Envelope{
		DeviceID:  "dev-1",
		Type:      model.MessageCommand,
		Payload:   "blob",
		Signature: "sig",
		Direction: model.DirectionToDevice,
		Timestamp: ts,
	})
	require.NoError(t, err)
}

func TestSweepExpiresOnlyOldEnvelopes(t *testing.T) {
	ctx := context.Background()

	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	t.Setenv("MESSAGE_RETENTION_MINUTES", "5")
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	retention := cfg.Retention()
	require.Equal(t, 5*time.Minute, retention)

	seedEnvelope(t, st, time.Now().Add(-retention-time.Minute)) // expired
	seedEnvelope(t, st, time.Now())                             // fresh

	s := New(st, cfg, slog.Default(), WithInterval(20*time.Millisecond))
	s.Start()
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool {
		n, err := st.CountEnvelopes(ctx, model.DirectionToDevice)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	// The fresh envelope stays through further sweeps.
	time.Sleep(100 * time.Millisecond)
	n, err := st.CountEnvelopes(ctx, model.DirectionToDevice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStopWaitsForLoopExit(t *testing.T) {
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	s := New(st, cfg, slog.Default(), WithInterval(10*time.Millisecond))
	s.Start()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned")
	}

	// Stop is idempotent.
	s.Stop()
}
