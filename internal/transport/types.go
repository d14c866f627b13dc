package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ChatID identifies a user or a group on the chat platform.
// Private chats share the user's id.
type ChatID int64

func (id ChatID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseChatID parses the decimal form produced by ChatID.String.
func ParseChatID(s string) (ChatID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id %q: %w", s, err)
	}
	return ChatID(v), nil
}

type UpdateKind string

const (
	UpdateMemberJoined UpdateKind = "member_joined"
	UpdateAction       UpdateKind = "action"
	UpdateCommand      UpdateKind = "command"
)

// Update is a single inbound platform event. Exactly one payload is set.
type Update struct {
	Kind    UpdateKind
	Joined  *MemberJoined
	Action  *ActionTriggered
	Command *CommandReceived
}

type Member struct {
	ID        ChatID
	FirstName string
	Username  string
	IsBot     bool
}

type MemberJoined struct {
	GroupID ChatID
	Members []Member
}

// ActionTriggered is an inline button press.
type ActionTriggered struct {
	ID        string
	Data      string
	From      Member
	ChatID    ChatID // chat the button's message lives in
	MessageID int
}

type CommandReceived struct {
	ChatID  ChatID
	From    Member
	Name    string // without leading slash and @botname suffix
	Args    string
	IsGroup bool
}

// Button is an inline action button attached to a message.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string // "", "Markdown", "HTML"
	DisablePreview bool
	Button         *Button
}

// Adapter is the platform collaborator. Implementations must be safe for
// concurrent use.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Sender
}

// Sender holds the outbound primitives used by the admission workflow and
// the broadcaster. Send failures are reported as *DeliveryError.
type Sender interface {
	Send(ctx context.Context, to ChatID, text string, opt *SendOptions) error
	RemoveMember(ctx context.Context, group, user ChatID) error
	AnswerAction(ctx context.Context, actionID, text string) error
}

// ErrDeliveryFailed marks a message the platform refused (blocked bot,
// unknown chat, no permission to start a private conversation, ...).
var ErrDeliveryFailed = errors.New("delivery failed")

// DeliveryError wraps a platform send error.
type DeliveryError struct {
	To  ChatID
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.To, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDeliveryFailed, e.Err} }
