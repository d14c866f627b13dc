// Package telegram implements transport.Adapter on top of telebot with long
// polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "wisdombot/internal/runtime/supervisor"
	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// joins remembered for de-duplication; telebot may report one service
// message several times, once per joined user.
const seenJoins = 128

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- transport.Update
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a := &Adapter{log: log, bot: b, seen: map[string]struct{}{}}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Username is the bot's own username, as reported by getMe.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || !a.firstSeen(fmt.Sprintf("%d:%d", m.Chat.ID, m.ID)) {
			return nil
		}
		if ev := joinedFrom(m); ev != nil {
			a.emit(transport.Update{Kind: transport.UpdateMemberJoined, Joined: ev})
		}
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if act := actionFrom(c.Callback()); act != nil {
			a.emit(transport.Update{Kind: transport.UpdateAction, Action: act})
		}
		return nil
	})

	// No per-command handlers are registered, so every command (including
	// ones telebot's command pattern does not recognize) lands here.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if cmd := commandFrom(c.Message(), a.Username()); cmd != nil {
			a.emit(transport.Update{Kind: transport.UpdateCommand, Command: cmd})
		}
		return nil
	})
}

func (a *Adapter) firstSeen(key string) bool {
	a.seenMu.Lock()
	defer a.seenMu.Unlock()
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = struct{}{}
	a.seenOrder = append(a.seenOrder, key)
	if len(a.seenOrder) > seenJoins {
		delete(a.seen, a.seenOrder[0])
		a.seenOrder = a.seenOrder[1:]
	}
	return true
}

// emit never blocks the poll loop; updates are dropped (and counted) when
// the consumer falls behind.
func (a *Adapter) emit(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.supervisor"))),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(ctx context.Context) {
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				report()
				return
			case <-t.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it ever returns early.
	sup.GoRestart("telebot.poll", func(ctx context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// getUpdates may sit in a long poll; do not hold shutdown hostage to it.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// Send delivers a message. Any platform refusal is reported as a
// *transport.DeliveryError.
func (a *Adapter) Send(ctx context.Context, to transport.ChatID, text string, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	so, err := sendOptions(opt)
	if err != nil {
		return err
	}
	if _, err := a.bot.Send(tele.ChatID(to), text, so); err != nil {
		return &transport.DeliveryError{To: to, Err: err}
	}
	return nil
}

// RemoveMember kicks user: ban followed by unban, so they may join again.
func (a *Adapter) RemoveMember(ctx context.Context, group, user transport.ChatID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: int64(group)}
	u := &tele.User{ID: int64(user)}
	if err := a.bot.Ban(chat, &tele.ChatMember{User: u}); err != nil {
		return fmt.Errorf("ban %s in %s: %w", user, group, err)
	}
	if err := a.bot.Unban(chat, u); err != nil {
		return fmt.Errorf("unban %s in %s: %w", user, group, err)
	}
	return nil
}

func (a *Adapter) AnswerAction(ctx context.Context, actionID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: actionID}, &tele.CallbackResponse{Text: text})
}
