package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisdombot/internal/catalog"
	"wisdombot/internal/storage"
	"wisdombot/internal/transport"
	"wisdombot/internal/transport/transporttest"
	logx "wisdombot/pkg/logx"
)

type recordingAdmission struct {
	mu      sync.Mutex
	joins   []*transport.MemberJoined
	actions []*transport.ActionTriggered
}

func (r *recordingAdmission) HandleJoin(_ context.Context, ev *transport.MemberJoined) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, ev)
}

func (r *recordingAdmission) HandleAction(_ context.Context, a *transport.ActionTriggered) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

type fixture struct {
	bot   *Bot
	adm   *recordingAdmission
	owner *storage.Owner
	tx    *transporttest.Sender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	cat, err := catalog.Default()
	require.NoError(t, err)

	f := &fixture{adm: &recordingAdmission{}, owner: storage.NewOwner(st), tx: transporttest.NewSender()}
	f.bot = New(f.adm, f.owner, f.tx, cat, logx.Nop(), nil)
	return f
}

func command(chat transport.ChatID, name string, group bool) transport.Update {
	return transport.Update{Kind: transport.UpdateCommand, Command: &transport.CommandReceived{
		ChatID: chat, From: transport.Member{ID: 7}, Name: name, IsGroup: group,
	}}
}

func TestStartSubscribesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.Handle(ctx, command(10, "start", false)))
	require.NoError(t, f.bot.Handle(ctx, command(10, "start", false)))

	subs, err := f.owner.Subscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.NewSubscribers(10), subs)

	msgs := f.tx.MessagesTo(10)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Text, "/quote — случайная цитата")
	assert.Contains(t, msgs[0].Text, "/мотивация — мотивирующая фраза")
	assert.Contains(t, msgs[0].Text, "/великие — слова великих людей")
}

func TestHelpDoesNotSubscribe(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bot.Handle(context.Background(), command(10, "help", false)))

	subs, err := f.owner.Subscribers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Len(t, f.tx.MessagesTo(10), 1)
}

func TestQuoteCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.Handle(ctx, command(10, "quote", false)))
	require.NoError(t, f.bot.Handle(ctx, command(10, "мотивация", false)))

	msgs := f.tx.MessagesTo(10)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "Markdown", m.Opt.ParseMode)
		assert.Contains(t, m.Text, "📚")
	}
	assert.Contains(t, msgs[1].Text, "📚 Мотивация")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.Handle(ctx, command(10, "юмор", false)))
	msgs := f.tx.MessagesTo(10)
	require.Len(t, msgs, 1)
	assert.Equal(t, unknownCommandText, msgs[0].Text)

	require.NoError(t, f.bot.Handle(ctx, command(-10, "ban", true)))
	assert.Empty(t, f.tx.MessagesTo(-10))
}

func TestJoinsAndChallengeButtonsGoToAdmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	join := &transport.MemberJoined{GroupID: -1, Members: []transport.Member{{ID: 5}}}
	require.NoError(t, f.bot.Handle(ctx, transport.Update{Kind: transport.UpdateMemberJoined, Joined: join}))

	press := &transport.ActionTriggered{ID: "cb", Data: "captcha:5:abc", From: transport.Member{ID: 5}}
	require.NoError(t, f.bot.Handle(ctx, transport.Update{Kind: transport.UpdateAction, Action: press}))

	other := &transport.ActionTriggered{ID: "cb2", Data: "menu:1"}
	require.NoError(t, f.bot.Handle(ctx, transport.Update{Kind: transport.UpdateAction, Action: other}))

	assert.Equal(t, []*transport.MemberJoined{join}, f.adm.joins)
	assert.Equal(t, []*transport.ActionTriggered{press}, f.adm.actions)
	assert.Equal(t, []transporttest.Answer{{ID: "cb2", Text: ""}}, f.tx.Answers())
}

func TestMiddlewareRecoversAndTimesOut(t *testing.T) {
	h := Chain(func(ctx context.Context, up transport.Update) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		panic("boom")
	}, Recover(logx.Nop()), WithTimeout(time.Second))

	err := h(context.Background(), transport.Update{Kind: transport.UpdateCommand})
	assert.ErrorContains(t, err, "panic: boom")
}

func TestDispatcherHandlesEveryUpdate(t *testing.T) {
	var n atomic.Int64
	d := NewDispatcher(func(ctx context.Context, up transport.Update) error {
		n.Add(1)
		return nil
	}, logx.Nop())

	updates := make(chan transport.Update)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), updates) }()

	for range 50 {
		updates <- transport.Update{Kind: transport.UpdateCommand}
	}
	close(updates)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, int64(50), n.Load())
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	d := NewDispatcher(func(ctx context.Context, up transport.Update) error { return nil }, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, make(chan transport.Update)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
