package cron

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/alerting"
	"github.com/bher20/energybill/internal/metrics"
	"github.com/bher20/energybill/internal/storage"
)

func TestNextRun(t *testing.T) {
	last := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)

	assert.Equal(t, last.Add(300*time.Second), NextRun("300", last))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), NextRun("*/15 * * * *", last))
	assert.Equal(t, last.Add(defaultEvery), NextRun("whenever", last))
	assert.Equal(t, last.Add(defaultEvery), NextRun("-5", last))
}

func TestValidSchedule(t *testing.T) {
	assert.True(t, ValidSchedule("60"))
	assert.True(t, ValidSchedule("0 3 * * *"))
	assert.False(t, ValidSchedule("0"))
	assert.False(t, ValidSchedule("daily"))
}

func TestSweepOnce_ReportsOnlyStalePending(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()

	_, err := st.CreatePendingCalculation(ctx, storage.Calculation{ID: "stuck", HouseID: "h1", FlagID: "f"})
	require.NoError(t, err)
	_, err = st.CreatePendingCalculation(ctx, storage.Calculation{ID: "done", HouseID: "h1", FlagID: "f"})
	require.NoError(t, err)
	_, err = st.UpdateCalculationValue(ctx, "done", decimal.RequireFromString("10"))
	require.NoError(t, err)

	sw := NewSweeper(st, zap.NewNop(), "60", time.Minute)
	sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StalePendingCalculations))

	// still pending: the sweeper never mutates
	c, err := st.GetCalculation(ctx, "stuck")
	require.NoError(t, err)
	assert.True(t, c.Pending())

	// nothing is stale yet from the present
	sw.now = time.Now
	n, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.StalePendingCalculations))
}

type countingLocker struct {
	storage.Storage
	acquired atomic.Int32
	held     bool
}

func (c *countingLocker) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	c.acquired.Add(1)
	return !c.held, nil
}

func (c *countingLocker) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	return true, nil
}

func TestRun_SweepsImmediatelyAndStops(t *testing.T) {
	st := &countingLocker{Storage: storage.NewMemory()}
	sw := NewSweeper(st, zap.NewNop(), "3600", time.Hour)
	sw.tick = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sw.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), st.acquired.Load(), "one run, next is an hour away")
}

func TestRun_SkipsWhenLockHeld(t *testing.T) {
	st := &countingLocker{Storage: storage.NewMemory(), held: true}
	sw := NewSweeper(st, zap.NewNop(), "1", time.Hour)
	sw.tick = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = sw.Run(ctx)
	assert.GreaterOrEqual(t, st.acquired.Load(), int32(1))
}

func TestSweepOnce_PostsAlert(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	_, err := st.CreatePendingCalculation(ctx, storage.Calculation{ID: "stuck", HouseID: "h1", FlagID: "f"})
	require.NoError(t, err)

	var got map[string]any
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer hook.Close()

	sw := NewSweeper(st, zap.NewNop(), "60", time.Minute).
		WithAlerter(alerting.NewAlerter(alerting.Config{WebhookURL: hook.URL}, zap.NewNop()))
	sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	n, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotNil(t, got)
	assert.Equal(t, float64(1), got["stale_count"])
}
