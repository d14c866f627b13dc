// Package broadcast sends one catalog item a day to every subscriber and
// drops subscribers whose delivery fails.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"wisdombot/internal/catalog"
	"wisdombot/internal/observability"
	"wisdombot/internal/storage"
	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

// Defaults used when the matching Config field is empty.
const (
	// DefaultSchedule fires once a day at 09:00.
	DefaultSchedule = "0 9 * * *"
	// DefaultUTCOffset is Moscow time, which has no DST.
	DefaultUTCOffset = "+03:00"
	// DefaultRatePerSec stays under Telegram's bulk messaging limit.
	DefaultRatePerSec = 25
)

// Config controls when the daily broadcast runs and how fast it sends.
type Config struct {
	Schedule   string  // standard 5-field cron expression
	UTCOffset  string  // fixed offset the schedule is evaluated in, e.g. "+03:00"
	RatePerSec float64 // delivery pacing; <= 0 disables it
}

// Content selects and renders the daily item.
type Content interface {
	PickRandom() catalog.Item
	Format(it catalog.Item) string
}

// Result summarizes one cycle.
type Result struct {
	Attempted int
	Delivered int
	Pruned    []transport.ChatID
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Scheduler) { s.m = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

type Scheduler struct {
	log     logx.Logger
	m       *observability.Metrics
	owner   *storage.Owner
	tx      transport.Sender
	content Content

	sched   cron.Schedule
	loc     *time.Location
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg Config, owner *storage.Owner, tx transport.Sender, content Content, opts ...Option) (*Scheduler, error) {
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("broadcast schedule %q: %w", spec, err)
	}
	offset := strings.TrimSpace(cfg.UTCOffset)
	if offset == "" {
		offset = DefaultUTCOffset
	}
	loc, err := FixedZone(offset)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	s := &Scheduler{
		log:     logx.Nop(),
		owner:   owner,
		tx:      tx,
		content: content,
		sched:   sched,
		loc:     loc,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s, nil
}

// FixedZone parses an offset like "+03:00" into a location without DST.
func FixedZone(offset string) (*time.Location, error) {
	t, err := time.Parse("-07:00", offset)
	if err != nil {
		return nil, fmt.Errorf("utc offset %q: %w", offset, err)
	}
	_, sec := t.Zone()
	return time.FixedZone("UTC"+offset, sec), nil
}

// NextFire returns the first scheduled instant strictly after now, so a
// caller sitting exactly on a fire time waits for the next one.
func (s *Scheduler) NextFire(now time.Time) time.Time {
	return s.sched.Next(now.In(s.loc))
}

// Run loops until ctx is done. Every cycle derives its target from the wall
// clock, so a late wake-up never shifts later cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	var last time.Time
	for {
		now := s.now()
		if now.Before(last) {
			// wall clock stepped back; never fire the same slot twice
			now = last
		}
		next := s.NextFire(now)
		wait := next.Sub(s.now())
		s.log.Info("next broadcast scheduled", logx.Time("at", next), logx.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		last = next

		res, err := s.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("broadcast cycle failed", logx.Err(err))
			continue
		}
		s.log.Info("broadcast cycle done",
			logx.Int("attempted", res.Attempted),
			logx.Int("delivered", res.Delivered),
			logx.Int("pruned", len(res.Pruned)),
		)
	}
}

// RunOnce delivers one item to the current subscribers, one attempt each,
// and removes those that failed.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	item := s.content.PickRandom()
	text := s.content.Format(item)

	subs, err := s.owner.Subscribers(ctx)
	if err != nil {
		return res, fmt.Errorf("load subscribers: %w", err)
	}

	opt := &transport.SendOptions{ParseMode: "Markdown"}
	for _, id := range subs.Sorted() {
		if err := s.limiter.Wait(ctx); err != nil {
			// cancelled mid-cycle: keep everyone not attempted yet
			break
		}
		res.Attempted++
		err := s.tx.Send(ctx, id, text, opt)
		switch {
		case err == nil:
			res.Delivered++
			s.m.Delivery(true)
		case errors.Is(err, transport.ErrDeliveryFailed) && ctx.Err() == nil:
			res.Pruned = append(res.Pruned, id)
			s.m.Delivery(false)
			s.log.Debug("delivery failed, pruning subscriber", logx.Int64("chat", int64(id)), logx.Err(err))
		default:
			s.m.Delivery(false)
			s.log.Warn("delivery error", logx.Int64("chat", int64(id)), logx.Err(err))
		}
	}

	if len(res.Pruned) > 0 {
		// remove only the failures so chats added meanwhile survive
		kept, err := s.owner.UpdateSubscribers(ctx, func(cur storage.Subscribers) bool {
			changed := false
			for _, id := range res.Pruned {
				if cur.Remove(id) {
					changed = true
				}
			}
			return changed
		})
		if err != nil {
			return res, fmt.Errorf("save subscribers: %w", err)
		}
		s.m.SetSubscribers(len(kept))
	} else {
		s.m.SetSubscribers(len(subs))
	}
	s.m.BroadcastDone(s.now())
	return res, nil
}
