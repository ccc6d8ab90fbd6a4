package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dues-service/prometheus"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// PoolConfig controls handle lifetimes
type PoolConfig struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
}

// Handle is a reference-counted connection to one tenant partition. Every
// handle returned by GetHandle must be released exactly once.
type Handle struct {
	storageID string
	db        *gorm.DB
	pool      *Pool

	// guarded by pool.mu
	refs     int
	lastUsed time.Time
	broken   bool
	evicted  bool
	closing  bool

	done chan struct{}
}

// DB returns the gorm handle of the partition
func (h *Handle) DB() *gorm.DB { return h.db }

// StorageID returns the partition the handle is bound to
func (h *Handle) StorageID() string { return h.storageID }

// Release returns the handle to the pool. The underlying connection is closed
// once an evicted handle has no remaining holders.
func (h *Handle) Release() {
	h.pool.release(h)
}

// MarkBroken stops the pool from handing this connection out again.
func (h *Handle) MarkBroken() {
	p := h.pool
	p.mu.Lock()
	h.broken = true
	closeNow := p.evictLocked(h)
	p.mu.Unlock()
	if closeNow {
		p.closeHandle(h, "broken")
	}
}

// Pool caches one live handle per storage id.
type Pool struct {
	opener Opener
	cfg    PoolConfig
	clock  clock.Clock
	log    *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool

	group singleflight.Group
}

// NewPool creates an empty pool
func NewPool(opener Opener, cfg PoolConfig, clk clock.Clock, log *zap.Logger) *Pool {
	return &Pool{
		opener:  opener,
		cfg:     cfg,
		clock:   clk,
		log:     log,
		handles: make(map[string]*Handle),
	}
}

// Opener returns the opener backing the pool
func (p *Pool) Opener() Opener { return p.opener }

// GetHandle returns a healthy cached handle or opens a new one. Concurrent
// callers for the same storage id share a single open.
func (p *Pool) GetHandle(ctx context.Context, storageID string) (*Handle, error) {
	for attempt := 0; ; attempt++ {
		h, err := p.acquire(storageID)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
		if attempt == 2 {
			return nil, storageError(nil, storageID, errors.New("handle evicted while opening"))
		}

		ch := p.group.DoChan(storageID, func() (interface{}, error) {
			return nil, p.open(storageID)
		})
		select {
		case <-ctx.Done():
			return nil, storageError(nil, storageID, ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		}
	}
}

// acquire takes a reference on a cached healthy handle. It returns nil when
// a new handle has to be opened.
func (p *Pool) acquire(storageID string) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, storageError(nil, storageID, ErrPoolClosed)
	}
	h, ok := p.handles[storageID]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	if h.broken {
		closeNow := p.evictLocked(h)
		p.mu.Unlock()
		if closeNow {
			p.closeHandle(h, "broken")
		}
		return nil, nil
	}
	h.refs++
	h.lastUsed = p.clock.Now()
	p.mu.Unlock()
	return h, nil
}

// open connects to the partition and installs the handle. It runs detached
// from any single caller so that one aborted request does not fail the others
// waiting on the same open.
func (p *Pool) open(storageID string) error {
	p.mu.Lock()
	if h, ok := p.handles[storageID]; ok && !h.broken {
		// installed by a flight that finished after our cache miss
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	defer cancel()

	db, err := p.opener.Open(ctx, storageID)
	prometheus.RecordHandleOpen(err)
	if err != nil {
		p.log.Warn("Failed to open tenant partition", zap.String("storage_id", storageID), zap.Error(err))
		return storageError(nil, storageID, err)
	}

	h := &Handle{
		storageID: storageID,
		db:        db,
		pool:      p,
		lastUsed:  p.clock.Now(),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.opener.Close(storageID, db)
		return storageError(nil, storageID, ErrPoolClosed)
	}
	var stale *Handle
	if old, ok := p.handles[storageID]; ok {
		if p.evictLocked(old) {
			stale = old
		}
	}
	p.handles[storageID] = h
	count := len(p.handles)
	p.mu.Unlock()

	if stale != nil {
		p.closeHandle(stale, "replaced")
	}
	prometheus.SetOpenHandles(count)
	p.log.Debug("Opened tenant partition", zap.String("storage_id", storageID))
	return nil
}

func (p *Pool) release(h *Handle) {
	p.mu.Lock()
	if h.refs == 0 {
		p.mu.Unlock()
		p.log.Error("Partition handle released more often than acquired", zap.String("storage_id", h.storageID))
		return
	}
	h.refs--
	h.lastUsed = p.clock.Now()
	closeNow := h.refs == 0 && h.evicted && !h.closing
	if closeNow {
		h.closing = true
	}
	p.mu.Unlock()

	if closeNow {
		p.closeHandle(h, "released")
	}
}

// evictLocked removes h from the cache. It reports whether the caller must
// close it now; otherwise the last Release closes it. p.mu must be held.
func (p *Pool) evictLocked(h *Handle) bool {
	if cur, ok := p.handles[h.storageID]; ok && cur == h {
		delete(p.handles, h.storageID)
	}
	h.evicted = true
	if h.refs > 0 || h.closing {
		return false
	}
	h.closing = true
	return true
}

func (p *Pool) closeHandle(h *Handle, reason string) {
	if err := p.opener.Close(h.storageID, h.db); err != nil {
		p.log.Warn("Failed to close tenant partition", zap.String("storage_id", h.storageID), zap.Error(err))
	}
	close(h.done)

	p.mu.Lock()
	count := len(p.handles)
	p.mu.Unlock()

	prometheus.RecordHandleEviction(reason)
	prometheus.SetOpenHandles(count)
	p.log.Debug("Closed tenant partition", zap.String("storage_id", h.storageID), zap.String("reason", reason))
}

// CloseHandle evicts the handle of storageID. In-flight holders keep using it
// until they release.
func (p *Pool) CloseHandle(storageID string) {
	p.mu.Lock()
	h, ok := p.handles[storageID]
	if !ok {
		p.mu.Unlock()
		return
	}
	closeNow := p.evictLocked(h)
	p.mu.Unlock()

	if closeNow {
		p.closeHandle(h, "closed")
	}
}

// CloseAll stops the pool and waits until every handle is closed or ctx ends.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	handles := make([]*Handle, 0, len(p.handles))
	closeNow := make(map[*Handle]bool, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	for _, h := range handles {
		closeNow[h] = p.evictLocked(h)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if closeNow[h] {
				p.closeHandle(h, "shutdown")
				return nil
			}
			select {
			case <-h.done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("partition %s still in use: %w", h.storageID, ctx.Err())
			}
		})
	}
	err := g.Wait()
	p.log.Info("Partition pool closed", zap.Int("handles", len(handles)), zap.Error(err))
	return err
}

// ListActive returns the storage ids with a cached handle, sorted
func (p *Pool) ListActive() []string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.handles))
	for id := range p.handles {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Sweep evicts handles idle for longer than IdleTimeout and pings the rest,
// evicting those that fail.
func (p *Pool) Sweep(ctx context.Context) {
	now := p.clock.Now()

	p.mu.Lock()
	var idle, live []*Handle
	for _, h := range p.handles {
		if h.refs == 0 && p.cfg.IdleTimeout > 0 && now.Sub(h.lastUsed) >= p.cfg.IdleTimeout {
			idle = append(idle, h)
		} else {
			live = append(live, h)
		}
	}
	var toClose []*Handle
	for _, h := range idle {
		if p.evictLocked(h) {
			toClose = append(toClose, h)
		}
	}
	p.mu.Unlock()

	for _, h := range toClose {
		p.closeHandle(h, "idle")
	}

	for _, h := range live {
		if err := ping(ctx, h, p.cfg.ConnectTimeout); err != nil {
			p.log.Warn("Tenant partition failed health check", zap.String("storage_id", h.storageID), zap.Error(err))
			h.MarkBroken()
		}
	}
}

func ping(ctx context.Context, h *Handle, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run sweeps the pool every SweepInterval until ctx is done
func (p *Pool) Run(ctx context.Context) {
	if p.cfg.SweepInterval <= 0 {
		return
	}
	ticker := p.clock.Ticker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}
