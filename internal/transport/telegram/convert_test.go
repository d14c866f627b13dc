package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"wisdombot/internal/transport"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		name     string
		args     string
		accepted bool
	}{
		{"/start", "start", "", true},
		{"/START", "start", "", true},
		{"/quote@WisdomBot", "quote", "", true},
		{"/quote@wisdombot extra words", "quote", "extra words", true},
		{"/quote@OtherBot", "", "", false},
		{"/мотивация", "мотивация", "", true},
		{"/Пословица@WisdomBot", "пословица", "", true},
		{"  /help  ", "help", "", true},
		{"/great\nsecond line", "great", "second line", true},
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/@WisdomBot", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, ok := parseCommand(tt.text, "WisdomBot")
			assert.Equal(t, tt.accepted, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestJoinedFromPrefersList(t *testing.T) {
	m := &tele.Message{
		ID:         5,
		Chat:       &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		UserJoined: &tele.User{ID: 1},
		UsersJoined: []tele.User{
			{ID: 1, FirstName: "Ann"},
			{ID: 2, Username: "bob", IsBot: true},
		},
	}
	ev := joinedFrom(m)
	require.NotNil(t, ev)
	assert.Equal(t, transport.ChatID(-100), ev.GroupID)
	assert.Equal(t, []transport.Member{
		{ID: 1, FirstName: "Ann"},
		{ID: 2, Username: "bob", IsBot: true},
	}, ev.Members)

	ev = joinedFrom(&tele.Message{Chat: &tele.Chat{ID: -1}, UserJoined: &tele.User{ID: 9}})
	require.NotNil(t, ev)
	assert.Len(t, ev.Members, 1)

	assert.Nil(t, joinedFrom(&tele.Message{Chat: &tele.Chat{ID: -1}}))
}

func TestActionFrom(t *testing.T) {
	a := actionFrom(&tele.Callback{
		ID:      "cb1",
		Data:    "captcha:1:abc",
		Sender:  &tele.User{ID: 1, FirstName: "Ann"},
		Message: &tele.Message{ID: 77, Chat: &tele.Chat{ID: 1, Type: tele.ChatPrivate}},
	})
	require.NotNil(t, a)
	assert.Equal(t, "cb1", a.ID)
	assert.Equal(t, "captcha:1:abc", a.Data)
	assert.Equal(t, transport.ChatID(1), a.From.ID)
	assert.Equal(t, transport.ChatID(1), a.ChatID)
	assert.Equal(t, 77, a.MessageID)
}

func TestCommandFrom(t *testing.T) {
	cmd := commandFrom(&tele.Message{
		Text:   "/великие@WisdomBot",
		Chat:   &tele.Chat{ID: -5, Type: tele.ChatGroup},
		Sender: &tele.User{ID: 3},
	}, "WisdomBot")
	require.NotNil(t, cmd)
	assert.Equal(t, "великие", cmd.Name)
	assert.True(t, cmd.IsGroup)
	assert.Equal(t, transport.ChatID(-5), cmd.ChatID)

	assert.Nil(t, commandFrom(&tele.Message{Text: "hi", Chat: &tele.Chat{ID: 1}}, "WisdomBot"))
}

func TestSendOptionsButton(t *testing.T) {
	so, err := sendOptions(&transport.SendOptions{
		ParseMode: "Markdown",
		Button:    &transport.Button{Text: "ok", Data: "captcha:1:x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Markdown", string(so.ParseMode))
	require.NotNil(t, so.ReplyMarkup)
	require.Len(t, so.ReplyMarkup.InlineKeyboard, 1)
	assert.Equal(t, "captcha:1:x", so.ReplyMarkup.InlineKeyboard[0][0].Data)

	so, err = sendOptions(nil)
	require.NoError(t, err)
	assert.Nil(t, so.ReplyMarkup)

	_, err = sendOptions(&transport.SendOptions{
		Button: &transport.Button{Text: "ok", Data: strings.Repeat("x", maxCallbackData+1)},
	})
	assert.ErrorIs(t, err, errCallbackDataTooLong)
}

func TestFirstSeen(t *testing.T) {
	a := &Adapter{seen: map[string]struct{}{}}
	assert.True(t, a.firstSeen("1:1"))
	assert.False(t, a.firstSeen("1:1"))
	for i := range seenJoins {
		a.firstSeen(string(rune('a' + i%26)) + string(rune(i)))
	}
	assert.True(t, a.firstSeen("1:1"), "old keys are forgotten")
}
