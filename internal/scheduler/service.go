package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.String("comp", "scheduler")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*recurringDef{},
		timers: map[uint64]*time.Timer{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		// already running
		return
	}

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	// Fresh queue per run so stale jobs from a previous run never execute.
	s.queue = make(chan job, s.cfg.QueueSize)

	s.c = cron.New(cron.WithParser(s.parser))
	for _, def := range s.defs {
		s.addEntryLocked(def)
	}

	// Local captures prevent races if fields are swapped/nilled during Stop().
	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	workers := s.cfg.Workers
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("workers", workers), logx.Int("entries", len(s.defs)))
}

// Stop halts the cron loop and every pending one-shot timer, then waits for
// in-flight jobs until ctx expires. Recurring definitions are kept so a
// later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.stopCh = nil
	s.runCtx = nil
	s.runCancel = nil
	s.queue = nil
	for _, def := range s.defs {
		def.entryID = 0
	}
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[uint64]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped")
	case <-ctx.Done():
		// workers finish in background
	}
}

// At schedules run to execute once at the given instant. Instants in the
// past fire immediately. The returned handle cancels the pending action.
// The delay is measured against the wall clock, not an injected Clock:
// firing rides a real time.AfterFunc, which no fake clock can advance.
func (s *Service) At(at time.Time, name string, run func(ctx context.Context) error) *Handle {
	s.tmu.Lock()
	s.seq++
	id := s.seq
	s.tmu.Unlock()

	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() {
		s.tmu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.tmu.Unlock()
		if !live {
			// cancelled between fire and lock
			return
		}
		s.enqueue(job{name: name, run: run})
	})

	s.tmu.Lock()
	s.timers[id] = t
	s.tmu.Unlock()
	return &Handle{s: s, id: id}
}

func (s *Service) cancelTimer(id uint64) {
	s.tmu.Lock()
	t, ok := s.timers[id]
	delete(s.timers, id)
	s.tmu.Unlock()
	if ok {
		_ = t.Stop()
	}
}

// PendingTimers reports the number of one-shot timers not yet fired.
func (s *Service) PendingTimers() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers)
}

// Schedule registers (or replaces) a recurring entry under key.
// Replacing is how callers restart an entry with a new schedule, e.g.
// after a guild timezone change.
func (s *Service) Schedule(key string, sched cron.Schedule, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.defs[key]; ok && s.c != nil && old.entryID != 0 {
		s.c.Remove(old.entryID)
	}
	def := &recurringDef{key: key, sched: sched, run: run}
	s.defs[key] = def
	if s.c != nil {
		s.addEntryLocked(def)
	}
}

// Every registers a recurring entry from a cron spec or descriptor
// (e.g. "@every 1h", "0 6 * * *").
func (s *Service) Every(key, spec string, run func(ctx context.Context) error) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return err
	}
	s.Schedule(key, sched, run)
	return nil
}

// HasEntry reports whether a recurring entry is registered under key.
func (s *Service) HasEntry(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[key]
	return ok
}

// Remove drops a recurring entry. Unknown keys are ignored.
func (s *Service) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[key]
	if !ok {
		return
	}
	delete(s.defs, key)
	if s.c != nil && def.entryID != 0 {
		s.c.Remove(def.entryID)
	}
}

func (s *Service) addEntryLocked(def *recurringDef) {
	key := def.key
	run := def.run
	def.entryID = s.c.Schedule(def.sched, cron.FuncJob(func() {
		s.enqueue(job{name: key, run: run})
	}))
}

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		s.log.Debug("job dropped, scheduler not running", logx.String("job", j.name))
		return
	}
	select {
	case queue <- j:
	default:
		s.log.Warn("job dropped, queue full", logx.String("job", j.name))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-queue:
			s.runJob(ctx, j, idx)
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job, idx int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job",
				logx.String("job", j.name),
				logx.Int("worker", idx),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.log.Warn("scheduled job failed",
			logx.String("job", j.name),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done",
		logx.String("job", j.name),
		logx.Duration("took", time.Since(start)))
}
