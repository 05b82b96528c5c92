package orchestration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
)

type countingProvider struct {
	calls atomic.Int32
	// failFirst makes the first n queries fail.
	failFirst int32
}

func (p *countingProvider) Query(_ context.Context) (*pacemaker.Status, error) {
	n := p.calls.Add(1)
	if n <= p.failFirst {
		return nil, errors.New("pcs: cluster is not available")
	}
	return &pacemaker.Status{}, nil
}

func TestWaiterImmediate(t *testing.T) {
	provider := &countingProvider{}
	w := Waiter{Pause: time.Hour, Timeout: time.Hour}

	start := time.Now()
	err := w.Wait(context.Background(), "noop", provider, func(*pacemaker.Status) bool { return true })
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second, "no pause before the first poll")
	require.EqualValues(t, 1, provider.calls.Load())
}

func TestWaiterTimeout(t *testing.T) {
	provider := &countingProvider{}
	w := Waiter{Pause: 10 * time.Millisecond, Timeout: 100 * time.Millisecond}

	start := time.Now()
	err := w.Wait(context.Background(), "never", provider, func(*pacemaker.Status) bool { return false })
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "never", timeoutErr.Operation)
	require.Equal(t, w.Timeout, timeoutErr.Timeout)
	require.GreaterOrEqual(t, timeoutErr.Elapsed, w.Timeout)
	require.GreaterOrEqual(t, elapsed, w.Timeout)
	require.Greater(t, provider.calls.Load(), int32(1))
}

func TestWaiterRetriesQueryErrors(t *testing.T) {
	provider := &countingProvider{failFirst: 2}
	w := Waiter{Pause: 5 * time.Millisecond, Timeout: time.Second}

	require.NoError(t, w.Wait(context.Background(), "flaky", provider, func(*pacemaker.Status) bool { return true }))
	require.EqualValues(t, 3, provider.calls.Load())

	// the last query error is kept on timeout
	provider = &countingProvider{failFirst: 1 << 30}
	w.Timeout = 30 * time.Millisecond
	err := w.Wait(context.Background(), "down", provider, func(*pacemaker.Status) bool { return true })
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorContains(t, err, "cluster is not available")
}

func TestWaiterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := Waiter{Pause: 5 * time.Millisecond, Timeout: time.Second}

	err := w.Wait(ctx, "cancelled", &countingProvider{}, func(*pacemaker.Status) bool { return false })
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestWaiterWithTimeout(t *testing.T) {
	w := Waiter{Pause: time.Second, Timeout: time.Minute}
	require.Equal(t, 2*time.Minute, w.WithTimeout(2*time.Minute).Timeout)
	require.Equal(t, time.Minute, w.WithTimeout(0).Timeout)
	require.Equal(t, time.Minute, w.Timeout)
}
