// Package notifier is the delivery edge of the engine: a thin,
// rate-limited pipe between the guild tree and the chat platform's Sink.
//
// There is deliberately no retry here. A failed delivery propagates to the
// caller; the mitigation is target-channel re-resolution on the next send.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskbot/pkg/logx"
)

var ErrNoSink = errors.New("notifier has no sink")

type HistoryItem struct {
	At      time.Time
	GuildID int64
	Title   string
	Error   string
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	sink    Sink
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sink: sink,
		log:  log.With(logx.String("comp", "notifier")),
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send paces the message through the rate limiter and hands it to the
// sink. The error (if any) is recorded in history and returned as-is.
func (s *Service) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	sink := s.sink
	lim := s.limiter
	s.mu.Unlock()

	if sink == nil {
		return ErrNoSink
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	err := sink.Send(ctx, msg)
	s.record(msg, err)
	if err != nil {
		s.log.Warn("delivery failed",
			logx.Int64("guild", msg.GuildID),
			logx.Int64("channel", msg.ChannelID),
			logx.Err(err))
		return err
	}
	s.log.Debug("delivered",
		logx.Int64("guild", msg.GuildID),
		logx.Int64("channel", msg.ChannelID),
		logx.String("title", msg.Title))
	return nil
}

func (s *Service) record(msg Message, err error) {
	item := HistoryItem{At: time.Now(), GuildID: msg.GuildID, Title: msg.Title}
	if err != nil {
		item.Error = err.Error()
	}

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if max := s.cfg.HistorySize; len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}

// History returns a copy of the recent delivery log, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}
