package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"wisdombot/internal/transport"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Config configures storage.
//
// Driver values:
//   - "file": two JSON documents in the directory Path (default)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the load/replace persistence API. Save* replaces the whole
// collection; a failed save leaves the previous content in place.
// Loading a collection that was never saved yields an empty one.
type Store interface {
	LoadSubscribers(ctx context.Context) (Subscribers, error)
	SaveSubscribers(ctx context.Context, subs Subscribers) error
	LoadPending(ctx context.Context) (PendingTable, error)
	SavePending(ctx context.Context, table PendingTable) error
	Close() error
}

// Subscribers is the set of chats that receive broadcasts.
type Subscribers map[transport.ChatID]struct{}

// NewSubscribers builds a set; duplicate ids collapse.
func NewSubscribers(ids ...transport.ChatID) Subscribers {
	s := make(Subscribers, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add reports whether id was not already present.
func (s Subscribers) Add(id transport.ChatID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove reports whether id was present.
func (s Subscribers) Remove(id transport.ChatID) bool {
	if _, ok := s[id]; !ok {
		return false
	}
	delete(s, id)
	return true
}

func (s Subscribers) Has(id transport.ChatID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s Subscribers) Sorted() []transport.ChatID {
	out := make([]transport.ChatID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s Subscribers) Clone() Subscribers {
	cp := make(Subscribers, len(s))
	for id := range s {
		cp[id] = struct{}{}
	}
	return cp
}

// Pending is an unresolved challenge. Token is the nonce embedded in the
// challenge button; entries written by older versions have none.
type Pending struct {
	GroupID  transport.ChatID
	IssuedAt time.Time
	Token    string
}

// PendingTable maps user ids to their single in-flight challenge.
type PendingTable map[transport.ChatID]Pending

func (t PendingTable) Clone() PendingTable {
	cp := make(PendingTable, len(t))
	for k, v := range t {
		cp[k] = v
	}
	return cp
}
