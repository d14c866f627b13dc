// Package transporttest provides an in-memory transport.Sender for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"wisdombot/internal/transport"
)

var errBlocked = errors.New("forbidden: bot was blocked by the user")

type Message struct {
	To   transport.ChatID
	Text string
	Opt  *transport.SendOptions
}

type Removal struct {
	Group transport.ChatID
	User  transport.ChatID
}

type Answer struct {
	ID   string
	Text string
}

// Sender records every outbound call. Sends to chats marked with FailTo
// return a *transport.DeliveryError.
type Sender struct {
	mu       sync.Mutex
	failing  map[transport.ChatID]bool
	messages []Message
	removals []Removal
	answers  []Answer
}

func NewSender() *Sender {
	return &Sender{failing: map[transport.ChatID]bool{}}
}

func (s *Sender) FailTo(ids ...transport.ChatID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failing[id] = true
	}
}

func (s *Sender) Send(_ context.Context, to transport.ChatID, text string, opt *transport.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[to] {
		return &transport.DeliveryError{To: to, Err: errBlocked}
	}
	s.messages = append(s.messages, Message{To: to, Text: text, Opt: opt})
	return nil
}

func (s *Sender) RemoveMember(_ context.Context, group, user transport.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removals = append(s.removals, Removal{Group: group, User: user})
	return nil
}

func (s *Sender) AnswerAction(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, Answer{ID: id, Text: text})
	return nil
}

func (s *Sender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// MessagesTo filters Messages by recipient.
func (s *Sender) MessagesTo(to transport.ChatID) []Message {
	var out []Message
	for _, m := range s.Messages() {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

func (s *Sender) Removals() []Removal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Removal(nil), s.removals...)
}

func (s *Sender) Answers() []Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Answer(nil), s.answers...)
}

// Adapter is a transport.Adapter whose inbound side is driven by Push.
type Adapter struct {
	*Sender

	mu  sync.Mutex
	out chan<- transport.Update
}

var _ transport.Adapter = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{Sender: NewSender()}
}

func (a *Adapter) Start(_ context.Context, out chan<- transport.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out = out
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out = nil
	return nil
}

// Push delivers an inbound update; it reports false when the adapter is not
// started.
func (a *Adapter) Push(ctx context.Context, up transport.Update) bool {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return false
	}
	select {
	case out <- up:
		return true
	case <-ctx.Done():
		return false
	}
}
