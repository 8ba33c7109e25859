package guild

import (
	"context"
	"fmt"
	"sync"

	"taskbot/internal/snapshot"
	"taskbot/internal/timeutil"
	"taskbot/pkg/logx"
)

const autosaveKey = "registry:autosave"

// Registry is the process-wide guild store: the root of the persisted
// tree and the only place guilds are created. It is constructed and
// passed explicitly; there is no ambient global.
type Registry struct {
	mu sync.Mutex

	deps Deps
	cfg  Config
	log  logx.Logger

	guilds map[int64]*Guild
	loaded bool
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = timeutil.System()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Registry{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		log:    deps.Log.With(logx.String("comp", "registry")),
		guilds: map[int64]*Guild{},
	}
}

// Start registers the autosave entry. The scheduler owns the loop; the
// registry only supplies the job.
func (r *Registry) Start(ctx context.Context) error {
	_ = ctx
	spec := fmt.Sprintf("@every %s", r.cfg.AutosaveEvery)
	return r.deps.Sched.Every(autosaveKey, spec, func(ctx context.Context) error {
		return r.Save(ctx)
	})
}

// Close stops the autosave entry and takes a final snapshot.
func (r *Registry) Close(ctx context.Context) error {
	r.deps.Sched.Remove(autosaveKey)
	return r.Save(ctx)
}

// GetOrCreate returns the guild for an external guild id, lazily creating
// it with defaults on first reference. At most one Guild instance ever
// exists per id.
func (r *Registry) GetOrCreate(id int64) *Guild {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.guilds[id]; ok {
		return g
	}
	g := newGuild(&r.deps, r.cfg, id)
	r.guilds[id] = g
	r.log.Info("guild created", logx.Int64("guild", id))
	return g
}

// Get returns an existing guild without creating one.
func (r *Registry) Get(id int64) (*Guild, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guilds[id]
	return g, ok
}

// Guilds snapshots the current guild list.
func (r *Registry) Guilds() []*Guild {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Guild, 0, len(r.guilds))
	for _, g := range r.guilds {
		out = append(out, g)
	}
	return out
}

// Remove forgets a guild that became permanently inaccessible. Timers
// owned by its tasks are cancelled; nothing is tombstoned on disk (the
// next save simply no longer contains it).
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	g, ok := r.guilds[id]
	delete(r.guilds, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	g.mu.Lock()
	r.deps.Sched.Remove(g.batchKey())
	for _, team := range g.teams {
		for _, task := range team.tasks {
			task.cancelTimersLocked()
		}
	}
	g.mu.Unlock()
	r.log.Info("guild removed", logx.Int64("guild", id))
}

// DeleteExpired sweeps every guild.
func (r *Registry) DeleteExpired() {
	for _, g := range r.Guilds() {
		g.DeleteExpired()
	}
}

// Save serializes every guild into the snapshot document and hands it to
// the store. It is a point-in-time read: each guild is locked only for
// the duration of its own serialization, background timers keep running.
func (r *Registry) Save(ctx context.Context) error {
	if r.deps.Store == nil {
		return nil
	}

	guilds := r.Guilds()
	records := make([]snapshot.GuildRecord, 0, len(guilds))
	for _, g := range guilds {
		records = append(records, g.record())
	}

	data, err := snapshot.Encode(records)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := r.deps.Store.SaveSnapshot(ctx, data); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	r.log.Info("data saved", logx.Int("guilds", len(records)))
	return nil
}

// Load reconstructs the guild tree from the stored snapshot. It runs at
// most once per process; use Reload to force another pass. A missing
// snapshot is no prior state. Guilds, teams and control roles whose
// external ids no longer resolve are dropped silently; every surviving
// task is re-attached, which restarts its notification timers relative to
// the current wall clock.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	r.loaded = true
	r.mu.Unlock()

	return r.load(ctx)
}

// Reload forces another load pass, replacing live guilds wholesale.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	r.loaded = true
	ids := make([]int64, 0, len(r.guilds))
	for id := range r.guilds {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
	return r.load(ctx)
}

func (r *Registry) load(ctx context.Context) error {
	if r.deps.Store == nil {
		return nil
	}
	data, err := r.deps.Store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if data == nil {
		r.log.Info("no snapshot found, starting empty")
		return nil
	}
	records, err := snapshot.Decode(data)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	loaded := 0
	for _, rec := range records {
		if !r.deps.Dir.GuildExists(rec.ID) {
			r.log.Debug("dropping unresolvable guild", logx.Int64("guild", rec.ID))
			continue
		}

		// The liveness check must precede restoration: restoring attaches
		// tasks (starting their timers) and registers the batch entry
		// under the shared per-guild key, so a discarded restore would
		// leave ghost timers and clobber the live guild's entry. Holding
		// the registry lock across restore+insert keeps a concurrent
		// GetOrCreate from slipping in between.
		r.mu.Lock()
		if _, exists := r.guilds[rec.ID]; exists {
			// A live guild wins over its stored version.
			r.mu.Unlock()
			r.log.Warn("snapshot guild already live, keeping live state", logx.Int64("guild", rec.ID))
			continue
		}
		r.guilds[rec.ID] = r.restoreGuild(rec)
		r.mu.Unlock()
		loaded++
	}
	r.log.Info("data loaded", logx.Int("guilds", loaded), logx.Int("dropped", len(records)-loaded))
	return nil
}

func (r *Registry) restoreGuild(rec snapshot.GuildRecord) *Guild {
	g := newGuild(&r.deps, r.cfg, rec.ID)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.targetChannel = rec.TargetChannelID
	g.receiveAnnouncements = rec.ReceiveAnnouncements
	if rec.Locale != "" {
		g.locale = rec.Locale
	}
	g.tzOffset = rec.TZOffset
	g.loc = timeutil.FixedOffset(rec.TZOffset)
	g.scheduleBatchLocked()

	for _, tr := range rec.Teams {
		if !r.deps.Dir.RoleExists(rec.ID, tr.RoleID) {
			g.log.Debug("dropping unresolvable team", logx.Int64("role", tr.RoleID))
			continue
		}
		team := &Team{
			guild:  g,
			roleID: tr.RoleID,
			notify: NotifySettings{
				Batch:     tr.Notify.Batch,
				Early:     tr.Notify.Early,
				EarlyTime: tr.Notify.EarlyTime,
				Exact:     tr.Notify.Exact,
			},
		}
		for _, rt := range tr.Tasks {
			due, err := snapshot.DecodeDue(rt.DueDatetime, g.loc)
			if err != nil {
				g.log.Warn("dropping undecodable task",
					logx.Int64("role", tr.RoleID), logx.Err(err))
				continue
			}
			task := &task{content: rt.Content, tags: rt.Tags, due: due}
			team.tasks = append(team.tasks, task)
			task.attachLocked(team)
		}
		g.teams = append(g.teams, team)
	}

	for _, cr := range rec.ControlRoles {
		if !r.deps.Dir.RoleExists(rec.ID, cr.RoleID) {
			g.log.Debug("dropping unresolvable control role", logx.Int64("role", cr.RoleID))
			continue
		}
		perms := make(map[string]bool, len(cr.Perms))
		for k, v := range cr.Perms {
			perms[k] = v
		}
		g.controlRoles = append(g.controlRoles, &ControlRole{guild: g, roleID: cr.RoleID, perms: perms})
	}
	return g
}
