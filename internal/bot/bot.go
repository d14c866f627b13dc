// Package bot routes platform updates: joins and challenge buttons go to
// the admission workflow, commands are answered from the quote catalog.
package bot

import (
	"context"
	"fmt"
	"strings"

	"wisdombot/internal/admission"
	"wisdombot/internal/catalog"
	"wisdombot/internal/observability"
	"wisdombot/internal/storage"
	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

const unknownCommandText = "Не знаю такой команды. Напиши /start."

// Admission is the part of admission.Workflow the router drives.
type Admission interface {
	HandleJoin(ctx context.Context, ev *transport.MemberJoined)
	HandleAction(ctx context.Context, a *transport.ActionTriggered)
}

type Bot struct {
	log   logx.Logger
	m     *observability.Metrics
	adm   Admission
	owner *storage.Owner
	tx    transport.Sender
	cat   *catalog.Catalog
}

func New(adm Admission, owner *storage.Owner, tx transport.Sender, cat *catalog.Catalog, log logx.Logger, m *observability.Metrics) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{log: log, m: m, adm: adm, owner: owner, tx: tx, cat: cat}
}

// Handle routes one update.
func (b *Bot) Handle(ctx context.Context, up transport.Update) error {
	switch up.Kind {
	case transport.UpdateMemberJoined:
		b.adm.HandleJoin(ctx, up.Joined)
	case transport.UpdateAction:
		return b.onAction(ctx, up.Action)
	case transport.UpdateCommand:
		return b.onCommand(ctx, up.Command)
	}
	return nil
}

func (b *Bot) onAction(ctx context.Context, a *transport.ActionTriggered) error {
	if a == nil {
		return nil
	}
	if strings.HasPrefix(a.Data, admission.TokenPrefix) {
		b.adm.HandleAction(ctx, a)
		return nil
	}
	// not ours; clear the client's spinner
	return b.tx.AnswerAction(ctx, a.ID, "")
}

func (b *Bot) onCommand(ctx context.Context, cmd *transport.CommandReceived) error {
	if cmd == nil {
		return nil
	}
	switch cmd.Name {
	case "start":
		return b.start(ctx, cmd)
	case "help":
		return b.reply(ctx, cmd.ChatID, b.helpText(), false)
	case "quote":
		return b.reply(ctx, cmd.ChatID, b.cat.Format(b.cat.PickRandom()), true)
	}

	if cat, ok := b.cat.ByCommand(cmd.Name); ok {
		it, err := b.cat.PickFrom(cat.Key)
		if err != nil {
			return err
		}
		return b.reply(ctx, cmd.ChatID, b.cat.Format(it), true)
	}
	if cmd.IsGroup {
		// groups are full of commands meant for other bots
		return nil
	}
	return b.reply(ctx, cmd.ChatID, unknownCommandText, false)
}

// start subscribes the chat (idempotent) and shows the command list.
func (b *Bot) start(ctx context.Context, cmd *transport.CommandReceived) error {
	added := false
	subs, err := b.owner.UpdateSubscribers(ctx, func(s storage.Subscribers) bool {
		added = s.Add(cmd.ChatID)
		return added
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cmd.ChatID, err)
	}
	b.m.SetSubscribers(len(subs))
	if added {
		b.log.Info("chat subscribed", logx.Int64("chat_id", int64(cmd.ChatID)), logx.Int("subscribers", len(subs)))
	}
	return b.reply(ctx, cmd.ChatID, b.helpText(), false)
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("Привет! 💬 Я — бот мудрости.\n\nКоманды:\n/quote — случайная цитата\n")
	for _, c := range b.cat.Categories() {
		if c.Command == "" {
			continue
		}
		help := c.Help
		if help == "" {
			help = c.Title
		}
		fmt.Fprintf(&sb, "/%s — %s\n", c.Command, help)
	}
	sb.WriteString("\n✨ Каждое утро в 9:00 по Москве я присылаю мудрость дня!")
	return sb.String()
}

func (b *Bot) reply(ctx context.Context, to transport.ChatID, text string, markdown bool) error {
	opt := &transport.SendOptions{DisablePreview: true}
	if markdown {
		opt.ParseMode = "Markdown"
	}
	return b.tx.Send(ctx, to, text, opt)
}
