package buffer

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/core/metrics"
)

// flushCoordinator serializes buffer-pool-wide flush passes: only one may
// be in flight at a time — a concurrent caller simply returns, matching
// the original InitiateFlush's single-flush-at-a-time behavior. Repeated
// flush passes grow the pool by cfg.BufferScale, up to cfg.MaxPoolPages,
// as a relief valve.
type flushCoordinator struct {
	pool *Pool

	mu       sync.Mutex
	inFlight bool

	flushCount int64
}

func newFlushCoordinator(p *Pool) *flushCoordinator {
	return &flushCoordinator{pool: p}
}

// initiateFlush walks every descriptor once, writing back dirty,
// unpinned pages in parallel via an errgroup. Every 8th pass over the
// coordinator's lifetime (the pass count is never reset), the pool is
// grown by cfg.BufferScale, clamped so it never exceeds cfg.MaxPoolPages
// descriptors, mirroring the original's "buffer starvation implies
// undersized pool" heuristic.
func (fc *flushCoordinator) initiateFlush() error {
	fc.mu.Lock()
	if fc.inFlight {
		fc.mu.Unlock()
		return nil
	}
	fc.inFlight = true
	fc.mu.Unlock()

	defer func() {
		fc.mu.Lock()
		fc.inFlight = false
		fc.mu.Unlock()
	}()

	metrics.BufferFlushesTotal.Inc()
	fc.flushCount++

	var g errgroup.Group
	for _, d := range fc.pool.descriptors {
		d := d
		g.Go(func() error {
			d.mu.Lock()
			dirty := d.hasFlag(FlagDirty) && d.RefCount == 0 && d.hasFlag(FlagValid)
			d.mu.Unlock()
			if !dirty {
				return nil
			}
			return fc.pool.FlushBuffer(d)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Errorf("buffer: flush pass failed: %v", err)
		return err
	}

	if fc.flushCount > 0 && fc.flushCount%8 == 0 {
		size := fc.pool.poolLen()
		grow := int(float64(size) * fc.pool.cfg.BufferScale)
		if limit := int(fc.pool.cfg.MaxPoolPages); size+grow > limit {
			grow = limit - size
		}
		if grow > 0 {
			logger.Infof("buffer: growing pool by %d descriptors after %d flush passes", grow, fc.flushCount)
			fc.pool.growPool(grow)
		}
	}

	return nil
}
