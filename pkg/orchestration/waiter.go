package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/pacemaker"
)

const (
	DefaultPause   = 2 * time.Second
	DefaultTimeout = 5 * time.Minute
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("timed out waiting for cluster to converge")

// TimeoutError reports an operation whose predicate never held. It is kept
// apart from command failures so callers can tell a command that failed from
// one that never converged.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Elapsed   time.Duration
	// LastErr is the last status query failure, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s: %v after %s (timeout %s)", e.Operation, ErrTimeout, e.Elapsed.Round(time.Millisecond), e.Timeout)
	if e.LastErr != nil {
		msg += fmt.Sprintf(", last status query error: %v", e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// StatusProvider returns the live cluster state. Implementations must not
// cache: every call re-queries the cluster manager.
type StatusProvider interface {
	Query(ctx context.Context) (*pacemaker.Status, error)
}

// Predicate reports whether the cluster reached the desired state.
type Predicate func(*pacemaker.Status) bool

// Waiter polls a StatusProvider until a predicate holds.
type Waiter struct {
	Pause   time.Duration
	Timeout time.Duration
}

// WithTimeout returns a copy of the waiter with another timeout. Zero keeps
// the current one.
func (w Waiter) WithTimeout(timeout time.Duration) Waiter {
	if timeout > 0 {
		w.Timeout = timeout
	}
	return w
}

// Wait evaluates predicate against freshly queried state, first immediately
// and then every Pause. It returns a *TimeoutError once Timeout has elapsed
// without the predicate holding. Status query errors are retried until then.
func (w Waiter) Wait(ctx context.Context, operation string, provider StatusProvider, predicate Predicate) error {
	pause, timeout := w.Pause, w.Timeout
	if pause <= 0 {
		pause = DefaultPause
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, pause, timeout, true, func(ctx context.Context) (bool, error) {
		status, err := provider.Query(ctx)
		if err != nil {
			klog.V(2).Infof("%s: status query failed, retrying: %v", operation, err)
			lastErr = err
			return false, nil
		}
		return predicate(status), nil
	})
	if err == nil {
		klog.V(2).Infof("%s: converged after %s", operation, time.Since(start).Round(time.Millisecond))
		return nil
	}

	elapsed := time.Since(start)
	if wait.Interrupted(err) && ctx.Err() == nil {
		return &TimeoutError{Operation: operation, Timeout: timeout, Elapsed: elapsed, LastErr: lastErr}
	}
	return fmt.Errorf("%s: waiting for convergence aborted after %s: %w", operation, elapsed.Round(time.Millisecond), err)
}

// predicates

func nodeInStandby(name string, standby bool) Predicate {
	return func(s *pacemaker.Status) bool {
		n, ok := s.Node(name)
		return ok && n.Standby == standby
	}
}

func nodeIdle(name string) Predicate {
	return func(s *pacemaker.Status) bool {
		n, ok := s.Node(name)
		if !ok || n.ResourcesRunning != 0 {
			return false
		}
		for _, r := range s.Resources {
			if !r.Active {
				continue
			}
			for _, host := range r.Nodes {
				if host == name {
					return false
				}
			}
		}
		return true
	}
}

func allResourcesInactive(s *pacemaker.Status) bool {
	for _, r := range s.Resources {
		if r.Active {
			return false
		}
	}
	return true
}

func noNodeInStandby(s *pacemaker.Status) bool {
	for _, n := range s.Nodes {
		if n.Standby {
			return false
		}
	}
	return true
}

func stonithActive(active bool) Predicate {
	return func(s *pacemaker.Status) bool {
		for _, r := range s.Stonith {
			if r.Active != active {
				return false
			}
		}
		return true
	}
}
