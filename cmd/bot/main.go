package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/guild"
	"taskbot/internal/notifier"
	"taskbot/internal/scheduler"
	"taskbot/internal/storage"
	"taskbot/internal/timeutil"
	logx "taskbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	var storeCfg storage.Config
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		storeCfg = storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	sched := scheduler.New(schedulerConfig(cfg), log)
	sched.Start(ctx)

	// The console sink stands in for a chat gateway; deployments swap it
	// for a real Sink/Directory pair at this seam.
	notif := notifier.New(notifierConfig(cfg), consoleSink{log: log.With(logx.String("comp", "sink"))}, log)

	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	reg := guild.NewRegistry(engineCfg, guild.Deps{
		Clock: timeutil.System(),
		Sched: sched,
		Notif: notif,
		Store: store,
		Dir:   openDirectory{},
		Log:   log,
	})
	if err := reg.Load(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := reg.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}

	go func() {
		if err := cfgm.Watch(ctx); err != nil {
			log.Warn("config watch exited", logx.Err(err))
		}
	}()

	sub := cfgm.Subscribe(8)
	go func() {
		defer cfgm.Unsubscribe(sub)
		last := cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok || newCfg == nil {
					return
				}
				sections, attrs := config.SummarizeChange(last, newCfg)
				if len(sections) > 0 {
					log.Info("config reloaded",
						append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
				}
				logSvc.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				notif.Apply(notifierConfig(newCfg))
				last = newCfg
			}
		}
	}()

	log.Info("taskbot started", logx.String("config", cfgPath))
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := reg.Close(stopCtx); err != nil {
		log.Warn("registry close", logx.Err(err))
	}
	sched.Stop(stopCtx)
	log.Info("taskbot stopped")
	return nil
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	var nc notifier.Config
	if cfg.Notifier != nil {
		nc.RatePerSec = cfg.Notifier.RatePerSec
		nc.HistorySize = cfg.Notifier.HistorySize
	}
	return nc
}

func engineConfig(cfg *config.Config) (guild.Config, error) {
	hour, minute, err := config.ParseBatchTime(cfg.Engine.BatchTime)
	if err != nil {
		return guild.Config{}, err
	}
	autosave, err := config.ParseDurationOrDefault("engine.autosave_interval", cfg.Engine.AutosaveInterval, time.Hour)
	if err != nil {
		return guild.Config{}, err
	}
	gc := guild.Config{
		DefaultLocale: cfg.Engine.DefaultLocale,
		BatchHour:     hour,
		BatchMinute:   minute,
		BatchTimeSet:  cfg.Engine.BatchTime != "",
		AutosaveEvery: autosave,
	}
	if cfg.Engine.DefaultTZOffset != nil {
		// The pointer distinguishes an explicit 0 (UTC) from an omitted
		// offset; carry that through to the engine config.
		gc.DefaultTZOffset = *cfg.Engine.DefaultTZOffset
		gc.TZOffsetSet = true
	}
	return gc, nil
}

// consoleSink prints notifications to the log. It keeps the binary
// runnable without a chat gateway attached.
type consoleSink struct {
	log logx.Logger
}

func (s consoleSink) Send(_ context.Context, msg notifier.Message) error {
	s.log.Info("notify",
		logx.Int64("guild", msg.GuildID),
		logx.Int64("channel", msg.ChannelID),
		logx.Int64("role", msg.TeamRoleID),
		logx.String("title", msg.Title),
		logx.String("body", msg.Body),
	)
	return nil
}

// openDirectory resolves every id and allows sending everywhere. Paired
// with consoleSink for gateway-less runs; a real Directory implementation
// answers from gateway state.
type openDirectory struct{}

func (openDirectory) GuildExists(int64) bool              { return true }
func (openDirectory) RoleExists(int64, int64) bool        { return true }
func (openDirectory) CanSend(int64, int64) bool           { return true }
func (openDirectory) SystemChannel(g int64) (int64, bool) { return g, true }
func (openDirectory) FirstSendableChannel(g int64) (int64, bool) {
	return g, true
}
