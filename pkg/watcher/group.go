package watcher

import (
	"context"
	"sync"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Group runs one Watcher per object class, each in its own goroutine. The
// watchers share nothing, so there is no ordering between classes.
type Group struct {
	watchers []*Watcher
}

func NewGroup(watchers ...*Watcher) *Group {
	return &Group{watchers: watchers}
}

// Run blocks until every watcher has returned.
func (g *Group) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(g.watchers))
	for i, w := range g.watchers {
		wg.Add(1)
		go func(i int, w *Watcher) {
			defer wg.Done()
			errs[i] = w.Run(ctx)
		}(i, w)
	}
	wg.Wait()
	return utilerrors.NewAggregate(errs)
}

// Stop stops every watcher. It is idempotent.
func (g *Group) Stop() {
	for _, w := range g.watchers {
		w.Stop()
	}
}
