package guild

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskbot/internal/notifier"
	"taskbot/internal/scheduler"
	"taskbot/internal/storage"
	"taskbot/internal/timeutil"
	"taskbot/pkg/logx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeDir resolves everything unless told otherwise.
type fakeDir struct {
	mu         sync.Mutex
	deadGuilds map[int64]bool
	deadRoles  map[int64]bool
	noSend     map[int64]bool
	system     map[int64]int64
	first      map[int64]int64
}

func newFakeDir() *fakeDir {
	return &fakeDir{
		deadGuilds: map[int64]bool{},
		deadRoles:  map[int64]bool{},
		noSend:     map[int64]bool{},
		system:     map[int64]int64{},
		first:      map[int64]int64{},
	}
}

func (d *fakeDir) GuildExists(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.deadGuilds[id]
}

func (d *fakeDir) RoleExists(_, roleID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.deadRoles[roleID]
}

func (d *fakeDir) CanSend(_, channelID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.noSend[channelID]
}

func (d *fakeDir) SystemChannel(guildID int64) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.system[guildID]
	return ch, ok
}

func (d *fakeDir) FirstSendableChannel(guildID int64) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.first[guildID]
	return ch, ok
}

type captureSink struct {
	mu   sync.Mutex
	msgs []notifier.Message
	err  error
}

func (s *captureSink) Send(_ context.Context, msg notifier.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *captureSink) sent() []notifier.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifier.Message(nil), s.msgs...)
}

type memStore struct {
	mu       sync.Mutex
	snapshot []byte
	audits   []storage.AuditEntry
}

func (m *memStore) LoadSnapshot(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, nil
}

func (m *memStore) SaveSnapshot(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.snapshot = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	m.audits = append(m.audits, e)
	m.mu.Unlock()
	return nil
}

func (m *memStore) Close() error { return nil }

type env struct {
	clock *fakeClock
	sched *scheduler.Service
	sink  *captureSink
	dir   *fakeDir
	store *memStore
	reg   *Registry
}

// newEnv pins "now" to noon guild time on 2021-01-01 with the default
// UTC-5 offset. The scheduler is constructed but not started, so entry
// and timer registration is observable while nothing fires in the
// background.
func newEnv(t *testing.T) *env {
	t.Helper()

	clock := &fakeClock{now: time.Date(2021, 1, 1, 12, 0, 0, 0, timeutil.FixedOffset(-5))}
	sink := &captureSink{}
	dir := newFakeDir()
	dir.system[1] = 100

	store := &memStore{}
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	notif := notifier.New(notifier.Config{RatePerSec: 10000}, sink, logx.Nop())
	reg := NewRegistry(Config{}, Deps{
		Clock: clock,
		Sched: sched,
		Notif: notif,
		Store: store,
		Dir:   dir,
		Log:   logx.Nop(),
	})
	return &env{clock: clock, sched: sched, sink: sink, dir: dir, store: store, reg: reg}
}

// dueAt builds a due instant in the guild's zone.
func dueAt(g *Guild, year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, g.Location())
}

func mustCreateTask(t *testing.T, tm *Team, content, tags string, due time.Time) TaskView {
	t.Helper()
	view, err := tm.CreateTask(content, tags, due)
	if err != nil {
		t.Fatalf("CreateTask(%q): %v", content, err)
	}
	return view
}

func mustCreateTeam(t *testing.T, g *Guild, roleID int64) *Team {
	t.Helper()
	tm, err := g.CreateTeam(roleID)
	if err != nil {
		t.Fatalf("CreateTeam(%d): %v", roleID, err)
	}
	return tm
}
