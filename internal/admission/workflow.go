// Package admission challenges new group members and evicts those who do not
// confirm before the deadline.
//
// Each challenge is a pending entry in the store plus one deadline timer. A
// timer never trusts what it captured: when it fires it re-reads the entry and
// acts only if the same challenge is still pending. Every entry gets a version
// while the store is locked, so timers follow the store's write order even
// when the arm calls themselves are reordered.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisdombot/internal/observability"
	"wisdombot/internal/storage"
	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

const (
	// DefaultDeadline is how long a new member has to press the button.
	DefaultDeadline = 10 * time.Second

	// timeout for work started from a timer callback
	expireTimeout = 15 * time.Second

	// ButtonText labels the confirmation button.
	ButtonText = "Я человек ✅"
)

// Config holds the workflow settings. A zero Deadline means DefaultDeadline.
type Config struct {
	Deadline time.Duration
}

// Option customizes a Workflow.
type Option func(*Workflow)

func WithLogger(l logx.Logger) Option { return func(w *Workflow) { w.log = l } }

func WithMetrics(m *observability.Metrics) Option { return func(w *Workflow) { w.m = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }

// WithTokenSource replaces NewToken.
func WithTokenSource(fn func(user transport.ChatID) string) Option {
	return func(w *Workflow) { w.newToken = fn }
}

type armed struct {
	t    *time.Timer
	ver  uint64
	want storage.Pending
}

type Workflow struct {
	log      logx.Logger
	m        *observability.Metrics
	owner    *storage.Owner
	tx       transport.Sender
	deadline time.Duration
	now      func() time.Time
	newToken func(user transport.ChatID) string

	mu     sync.Mutex
	base   context.Context
	timers map[transport.ChatID]armed
	seq    uint64
	closed bool
	fires  sync.WaitGroup
}

func New(cfg Config, owner *storage.Owner, tx transport.Sender, opts ...Option) *Workflow {
	w := &Workflow{
		log:      logx.Nop(),
		owner:    owner,
		tx:       tx,
		deadline: cfg.Deadline,
		now:      time.Now,
		newToken: NewToken,
		base:     context.Background(),
		timers:   map[transport.ChatID]armed{},
	}
	if w.deadline <= 0 {
		w.deadline = DefaultDeadline
	}
	for _, o := range opts {
		if o != nil {
			o(w)
		}
	}
	return w
}

// Start recovers challenges left over from a previous run. Entries whose
// deadline already passed are evicted now; the rest get a timer for the
// remaining time. Challenges are never re-issued. ctx bounds every timer
// callback armed afterwards.
func (w *Workflow) Start(ctx context.Context) error {
	w.mu.Lock()
	w.base = ctx
	w.mu.Unlock()

	table, err := w.owner.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending challenges: %w", err)
	}
	w.m.SetPending(len(table))

	now := w.now()
	var expired, rearmed int
	for user, p := range table {
		left := p.IssuedAt.Add(w.deadline).Sub(now)
		if left <= 0 {
			expired++
			w.expire(ctx, user, p)
			continue
		}
		rearmed++
		w.arm(user, p, left, w.nextSeq())
	}
	if len(table) > 0 {
		w.log.Info("recovered pending challenges",
			logx.Int("expired", expired),
			logx.Int("rearmed", rearmed),
		)
	}
	return nil
}

// Stop cancels all timers and waits for running callbacks to finish.
func (w *Workflow) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	for user, a := range w.timers {
		a.t.Stop()
		delete(w.timers, user)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.fires.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleJoin challenges every human member of the event independently.
func (w *Workflow) HandleJoin(ctx context.Context, ev *transport.MemberJoined) {
	if ev == nil {
		return
	}
	for _, member := range ev.Members {
		if member.IsBot {
			w.log.Debug("skip bot member", logx.Int64("user", int64(member.ID)))
			continue
		}
		w.challenge(ctx, ev.GroupID, member)
	}
}

func (w *Workflow) challenge(ctx context.Context, group transport.ChatID, member transport.Member) {
	log := w.log.With(logx.Int64("user", int64(member.ID)), logx.Int64("group", int64(group)))

	// the entry exists before the button does, so an early press finds it
	p := storage.Pending{GroupID: group, IssuedAt: w.now(), Token: w.newToken(member.ID)}
	var ver uint64
	table, err := w.owner.UpdatePending(ctx, func(t storage.PendingTable) bool {
		t[member.ID] = p
		ver = w.nextSeq()
		return true
	})
	if err != nil {
		log.Error("record pending challenge failed", logx.Err(err))
		return
	}
	w.m.SetPending(len(table))
	w.arm(member.ID, p, w.deadline, ver)

	text := fmt.Sprintf("Привет, %s! Подтверди, что ты человек, чтобы остаться в группе:", displayName(member))
	err = w.tx.Send(ctx, member.ID, text, &transport.SendOptions{
		Button: &transport.Button{Text: ButtonText, Data: p.Token},
	})
	if err != nil {
		// no private channel to the user: evict right away, nothing pending
		w.m.Challenge(observability.ChallengeUndeliverable)
		if !w.withdraw(ctx, member.ID, p) {
			log.Info("challenge undeliverable but already replaced", logx.Err(err))
			return
		}
		log.Info("challenge undeliverable, removing member", logx.Err(err))
		if err := w.tx.RemoveMember(ctx, group, member.ID); err != nil {
			log.Warn("remove member failed", logx.Err(err))
		}
		return
	}
	w.m.Challenge(observability.ChallengeIssued)
	log.Debug("challenge issued", logx.Duration("deadline", w.deadline))
}

// withdraw drops p from the table and its timer if p is still pending.
func (w *Workflow) withdraw(ctx context.Context, user transport.ChatID, p storage.Pending) bool {
	claimed := false
	table, err := w.owner.UpdatePending(ctx, func(t storage.PendingTable) bool {
		cur, ok := t[user]
		if !ok || !samePending(cur, p) {
			return false
		}
		delete(t, user)
		claimed = true
		return true
	})
	if err != nil {
		w.log.Error("withdraw challenge failed", logx.Int64("user", int64(user)), logx.Err(err))
		return false
	}
	w.disarm(user, p)
	if claimed {
		w.m.SetPending(len(table))
	}
	return claimed
}

// nextSeq versions a pending entry. Callers hold the pending lock, so
// versions grow in store write order.
func (w *Workflow) nextSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	return w.seq
}

// arm sets the deadline timer for want, versioned ver. A timer for a newer
// entry is never replaced by an older one.
func (w *Workflow) arm(user transport.ChatID, want storage.Pending, after time.Duration, ver uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if old, ok := w.timers[user]; ok {
		if old.ver > ver {
			return
		}
		old.t.Stop()
	}
	w.timers[user] = armed{
		ver:  ver,
		want: want,
		t:    time.AfterFunc(after, func() { w.fire(user, ver, want) }),
	}
}

// disarm stops the user's timer only if it still belongs to p.
func (w *Workflow) disarm(user transport.ChatID, p storage.Pending) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a, ok := w.timers[user]; ok && samePending(a.want, p) {
		a.t.Stop()
		delete(w.timers, user)
	}
}

func (w *Workflow) fire(user transport.ChatID, ver uint64, want storage.Pending) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if a, ok := w.timers[user]; ok && a.ver == ver {
		delete(w.timers, user)
	}
	base := w.base
	w.fires.Add(1)
	w.mu.Unlock()
	defer w.fires.Done()

	// a newer timer may exist; the store check below decides either way
	ctx, cancel := context.WithTimeout(base, expireTimeout)
	defer cancel()
	w.expire(ctx, user, want)
}

// expire evicts user if want is still the pending challenge. The entry is
// claimed (removed) before the member is, so a confirmation racing with the
// deadline resolves to exactly one outcome.
func (w *Workflow) expire(ctx context.Context, user transport.ChatID, want storage.Pending) {
	log := w.log.With(logx.Int64("user", int64(user)), logx.Int64("group", int64(want.GroupID)))

	claimed := false
	table, err := w.owner.UpdatePending(ctx, func(t storage.PendingTable) bool {
		cur, ok := t[user]
		if !ok || !samePending(cur, want) {
			return false
		}
		delete(t, user)
		claimed = true
		return true
	})
	if err != nil {
		log.Error("expire challenge failed", logx.Err(err))
		return
	}
	if !claimed {
		w.m.Challenge(observability.ChallengeStale)
		log.Debug("deadline for resolved or replaced challenge ignored")
		return
	}
	w.m.SetPending(len(table))
	w.m.Challenge(observability.ChallengeTimedOut)

	if err := w.tx.RemoveMember(ctx, want.GroupID, user); err != nil {
		log.Warn("remove member failed", logx.Err(err))
	}
	notice := fmt.Sprintf("Пользователь %s был удален за неактивность.", user)
	if err := w.tx.Send(ctx, want.GroupID, notice, nil); err != nil {
		log.Warn("eviction notice failed", logx.Err(err))
	}
	log.Info("member evicted after challenge deadline")
}

// HandleAction confirms a challenge from its button press.
func (w *Workflow) HandleAction(ctx context.Context, a *transport.ActionTriggered) {
	if a == nil {
		return
	}
	log := w.log.With(logx.Int64("user", int64(a.From.ID)))

	user, err := ParseToken(a.Data)
	if err != nil {
		log.Debug("bad challenge token", logx.String("data", a.Data), logx.Err(err))
		w.answer(ctx, a.ID, "")
		return
	}
	if user != a.From.ID {
		w.m.Challenge(observability.ChallengeMismatch)
		log.Debug("challenge pressed by another user", logx.Int64("owner", int64(user)))
		w.answer(ctx, a.ID, "")
		return
	}

	var p storage.Pending
	claimed := false
	table, err := w.owner.UpdatePending(ctx, func(t storage.PendingTable) bool {
		cur, ok := t[user]
		// entries from older versions carry no token; the user id in the
		// token already matched
		if !ok || (cur.Token != "" && cur.Token != a.Data) {
			return false
		}
		p = cur
		delete(t, user)
		claimed = true
		return true
	})
	if err != nil {
		log.Error("confirm challenge failed", logx.Err(err))
		return
	}
	if !claimed {
		w.m.Challenge(observability.ChallengeStale)
		w.answer(ctx, a.ID, "Проверка устарела.")
		return
	}
	w.disarm(user, p)
	w.m.SetPending(len(table))

	subs, err := w.owner.UpdateSubscribers(ctx, func(s storage.Subscribers) bool {
		return s.Add(user)
	})
	if err != nil {
		log.Error("subscribe confirmed member failed", logx.Err(err))
	} else {
		w.m.SetSubscribers(len(subs))
	}
	w.m.Challenge(observability.ChallengeConfirmed)

	if err := w.tx.Send(ctx, user, "✅ Подтверждено! Вы подписались на рассылку цитат.", nil); err != nil {
		log.Warn("confirmation message failed", logx.Err(err))
	}
	welcome := fmt.Sprintf("Добро пожаловать в группу, %s!", displayName(a.From))
	if err := w.tx.Send(ctx, p.GroupID, welcome, nil); err != nil {
		log.Warn("welcome message failed", logx.Err(err))
	}
	w.answer(ctx, a.ID, "Добро пожаловать!")
	log.Info("challenge confirmed", logx.Int64("group", int64(p.GroupID)))
}

func (w *Workflow) answer(ctx context.Context, id, text string) {
	if id == "" {
		return
	}
	if err := w.tx.AnswerAction(ctx, id, text); err != nil {
		w.log.Debug("answer action failed", logx.Err(err))
	}
}

// samePending reports whether cur is the challenge captured in want. Entries
// without a token (written by older versions) are compared by issue time.
func samePending(cur, want storage.Pending) bool {
	if cur.GroupID != want.GroupID || cur.Token != want.Token {
		return false
	}
	return want.Token != "" || cur.IssuedAt.Equal(want.IssuedAt)
}

func displayName(m transport.Member) string {
	switch {
	case m.FirstName != "":
		return m.FirstName
	case m.Username != "":
		return "@" + m.Username
	default:
		return m.ID.String()
	}
}
