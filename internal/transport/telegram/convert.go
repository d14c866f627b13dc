package telegram

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	"wisdombot/internal/transport"
)

// parseCommand splits "/name@bot args" into its parts. Commands addressed
// to another bot are rejected. Names are lower-cased; unlike Telegram's own
// command syntax they may use any letters, so "/мотивация" works.
func parseCommand(text, botUsername string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i+1:] + " " + rest
		head = head[:i]
	}
	head, target, addressed := strings.Cut(head, "@")
	if addressed && botUsername != "" && !strings.EqualFold(target, botUsername) {
		return "", "", false
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

func memberFrom(u *tele.User) transport.Member {
	if u == nil {
		return transport.Member{}
	}
	return transport.Member{
		ID:        transport.ChatID(u.ID),
		FirstName: u.FirstName,
		Username:  u.Username,
		IsBot:     u.IsBot,
	}
}

func isGroup(c *tele.Chat) bool {
	return c != nil && (c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup)
}

// joinedFrom builds the join event of a service message. Telegram fills
// both the legacy single-user field and the list; the list wins.
func joinedFrom(m *tele.Message) *transport.MemberJoined {
	if m == nil || m.Chat == nil {
		return nil
	}
	ev := &transport.MemberJoined{GroupID: transport.ChatID(m.Chat.ID)}
	for i := range m.UsersJoined {
		ev.Members = append(ev.Members, memberFrom(&m.UsersJoined[i]))
	}
	if len(ev.Members) == 0 && m.UserJoined != nil {
		ev.Members = append(ev.Members, memberFrom(m.UserJoined))
	}
	if len(ev.Members) == 0 {
		return nil
	}
	return ev
}

func actionFrom(cb *tele.Callback) *transport.ActionTriggered {
	if cb == nil {
		return nil
	}
	a := &transport.ActionTriggered{
		ID:   cb.ID,
		Data: cb.Data,
		From: memberFrom(cb.Sender),
	}
	if cb.Message != nil {
		a.MessageID = cb.Message.ID
		if cb.Message.Chat != nil {
			a.ChatID = transport.ChatID(cb.Message.Chat.ID)
		}
	}
	return a
}

func commandFrom(m *tele.Message, botUsername string) *transport.CommandReceived {
	if m == nil || m.Chat == nil {
		return nil
	}
	name, args, ok := parseCommand(m.Text, botUsername)
	if !ok {
		return nil
	}
	return &transport.CommandReceived{
		ChatID:  transport.ChatID(m.Chat.ID),
		From:    memberFrom(m.Sender),
		Name:    name,
		Args:    args,
		IsGroup: isGroup(m.Chat),
	}
}

// maxCallbackData is Telegram's callback_data size limit in bytes.
const maxCallbackData = 64

var errCallbackDataTooLong = errors.New("telegram: callback_data too long")

func sendOptions(opt *transport.SendOptions) (*tele.SendOptions, error) {
	so := &tele.SendOptions{}
	if opt == nil {
		return so, nil
	}
	so.ParseMode = tele.ParseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	if b := opt.Button; b != nil {
		if len(b.Data) > maxCallbackData {
			return nil, errCallbackDataTooLong
		}
		so.ReplyMarkup = &tele.ReplyMarkup{
			InlineKeyboard: [][]tele.InlineButton{{{Text: b.Text, Data: b.Data}}},
		}
	}
	return so, nil
}
