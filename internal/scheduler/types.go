package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Workers   int
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// recurringDef is kept across Stop/Start cycles so entries survive a restart.
type recurringDef struct {
	key   string
	sched cron.Schedule
	run   func(ctx context.Context) error

	entryID cron.EntryID
}

// Service owns every background timer in the process: one-shot deferred
// actions (At) and recurring entries (Schedule/Every). Jobs execute on a
// small worker pool so a slow notification can never stall the cron loop.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*recurringDef

	queue  chan job
	stopCh chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// one-shot timers
	tmu    sync.Mutex
	seq    uint64
	timers map[uint64]*time.Timer
}

// Handle cancels a one-shot deferred action. Cancel after fire is a no-op.
type Handle struct {
	s  *Service
	id uint64
}

func (h *Handle) Cancel() {
	if h == nil || h.s == nil {
		return
	}
	h.s.cancelTimer(h.id)
}
