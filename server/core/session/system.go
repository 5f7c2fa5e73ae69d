package session

import (
	"sync"

	"github.com/wdcore/engine/logger"
	"github.com/wdcore/engine/server/conf"
	"github.com/wdcore/engine/server/core/buffer"
	"github.com/wdcore/engine/server/core/coreerr"
	"github.com/wdcore/engine/server/core/lockmgr"
	"github.com/wdcore/engine/server/core/page"
	"github.com/wdcore/engine/server/core/xidstatus"
)

// ShutdownHook is run, in reverse registration order, by System.Shutdown.
type ShutdownHook func()

// System is the single, process-wide owner of every shared subsystem:
// the buffer pool, lock table, transaction status log, file-space
// manager and master lock, plus the registry of live per-backend
// environments. One process hosts exactly one System.
type System struct {
	cfg *conf.Cfg

	Pool       *buffer.Pool
	Locks      *lockmgr.Table
	Xlog       *xidstatus.Log
	FileSpace  *page.FileSpaceManager
	MasterLock *MasterLock

	vacuumer *xidstatus.Vacuumer

	mu   sync.Mutex
	envs map[ThreadID]*Env

	hooksMu sync.Mutex
	hooks   []ShutdownHook

	nextXid uint64
}

// Init builds a System from cfg: a buffer pool sized from cfg.TotalPages
// over a file-space manager rooted at cfg.DataDir, a lock table sharded
// into a fixed number of partitions, and an empty transaction status log
// whose Vacuumer is started immediately on vacuumSpec when it is
// non-empty (an empty spec leaves the vacuumer unscheduled). It refuses a
// cfg whose PageSize differs from page.Size.
func Init(cfg *conf.Cfg, vacuumSpec string) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PageSize != page.Size {
		return nil, coreerr.New(coreerr.User, "session.Init: page_size must equal the page store's fixed page size")
	}

	fsm := page.NewFileSpaceManager(cfg.DataDir)
	pool := buffer.New(cfg, fsm)
	locks := lockmgr.NewTable(16)

	s := &System{
		cfg:        cfg,
		Pool:       pool,
		Locks:      locks,
		FileSpace:  fsm,
		MasterLock: NewMasterLock(),
		envs:       make(map[ThreadID]*Env, cfg.MaxBackends),
		nextXid:    1,
	}

	s.Xlog = xidstatus.New(pool, fsm, func() bool { return cfg.Multiuser })
	s.vacuumer = xidstatus.NewVacuumer(s.Xlog, s.OldestActiveXID)
	if vacuumSpec != "" {
		if err := s.vacuumer.Start(vacuumSpec); err != nil {
			return nil, coreerr.Wrap(coreerr.Fatal, "session.Init: vacuumer", err)
		}
	}

	s.RegisterShutdownHook(func() {
		if s.vacuumer != nil {
			s.vacuumer.Stop()
		}
	})
	s.RegisterShutdownHook(func() {
		if err := s.FileSpace.Close(); err != nil {
			logger.Warnf("session: error closing file space manager: %v", err)
		}
	})

	logger.Infof("session: system initialized, data_dir=%s total_pages=%d max_backends=%d", cfg.DataDir, cfg.TotalPages, cfg.MaxBackends)
	return s, nil
}

// CreateEnv registers a new environment for thread, refusing to exceed
// cfg.MaxBackends live environments at once.
func (s *System) CreateEnv(thread ThreadID, userID, dbID uint32, parent *Env) (*Env, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.envs[thread]; exists {
		return nil, coreerr.New(coreerr.User, "session.CreateEnv: thread already owns an environment")
	}
	if len(s.envs) >= s.cfg.MaxBackends {
		return nil, coreerr.New(coreerr.Transient, "session.CreateEnv: max_backends reached")
	}

	env := NewEnv(thread, userID, dbID, parent)
	s.envs[thread] = env
	return env, nil
}

// DestroyEnv unregisters thread's environment, releasing every lock it
// still holds in the shared lock table is the caller's responsibility —
// System only forgets the bookkeeping entry here.
func (s *System) DestroyEnv(thread ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.envs, thread)
}

// SetEnv returns thread's currently registered environment, enforcing
// single ownership: a thread may only ever operate through its own Env.
func (s *System) SetEnv(thread ThreadID) (*Env, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[thread]
	if !ok {
		return nil, coreerr.New(coreerr.User, "session.SetEnv: no environment registered for thread")
	}
	if env.OwnerThread != thread {
		return nil, coreerr.New(coreerr.Fatal, "session.SetEnv: ownership mismatch")
	}
	return env, nil
}

// NextXid hands out the next transaction id. The core does not implement
// transaction-id wraparound handling (out of scope — a higher layer owns
// that policy); it only guarantees monotonically increasing ids within
// one process lifetime.
func (s *System) NextXid() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	xid := s.nextXid
	s.nextXid++
	return xid
}

// OldestActiveXID scans live environments for the smallest CurrentXid
// still in a transaction, used by the vacuumer to bound log truncation.
// An idle system (no live transactions) returns nextXid - 1, allowing
// the whole log to truncate up to the most recently handed-out id.
func (s *System) OldestActiveXID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldest := s.nextXid - 1
	for _, env := range s.envs {
		if env.InTransaction.Load() && env.CurrentXid != 0 && env.CurrentXid < oldest {
			oldest = env.CurrentXid
		}
	}
	return oldest
}

// RegisterShutdownHook appends hook to the list Shutdown runs in reverse
// order, so subsystems torn down last are the ones registered first
// (mirroring normal LIFO teardown of a layered system).
func (s *System) RegisterShutdownHook(hook ShutdownHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Shutdown runs every registered hook in reverse order.
func (s *System) Shutdown() {
	s.hooksMu.Lock()
	hooks := append([]ShutdownHook(nil), s.hooks...)
	s.hooksMu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	logger.Infof("session: system shutdown complete")
}
