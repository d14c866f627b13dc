package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"wisdombot/internal/transport"
	logx "wisdombot/pkg/logx"
)

const (
	subscribersFile = "subscribed_chats.json"
	pendingFile     = "pending_captcha.json"
)

// fileStore keeps each collection in its own JSON document:
//   - <dir>/subscribed_chats.json: ["123", "-100456"]
//   - <dir>/pending_captcha.json:  {"42": {"group_id": -100456, "time": 1700000000.5, "token": "..."}}
//
// Writes go through a temp file + fsync + rename, so a crash leaves either the
// old or the new document.
type fileStore struct {
	log logx.Logger

	mu          sync.Mutex
	subsPath    string
	pendingPath string
}

type pendingRecord struct {
	GroupID int64   `json:"group_id"`
	Time    float64 `json:"time"`
	Token   string  `json:"token,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &fileStore{
		log:         log,
		subsPath:    filepath.Join(dir, subscribersFile),
		pendingPath: filepath.Join(dir, pendingFile),
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadSubscribers(ctx context.Context) (Subscribers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw []string
	if err := readJSON(s.subsPath, &raw); err != nil {
		return nil, err
	}
	subs := make(Subscribers, len(raw))
	for _, v := range raw {
		id, err := transport.ParseChatID(strings.TrimSpace(v))
		if err != nil {
			s.log.Warn("skipping malformed subscriber", logx.String("value", v), logx.Err(err))
			continue
		}
		subs[id] = struct{}{}
	}
	return subs, nil
}

func (s *fileStore) SaveSubscribers(ctx context.Context, subs Subscribers) error {
	out := make([]string, 0, len(subs))
	for _, id := range subs.Sorted() {
		out = append(out, id.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.subsPath, out)
}

func (s *fileStore) LoadPending(ctx context.Context) (PendingTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw map[string]pendingRecord
	if err := readJSON(s.pendingPath, &raw); err != nil {
		return nil, err
	}
	table := make(PendingTable, len(raw))
	for k, rec := range raw {
		id, err := transport.ParseChatID(strings.TrimSpace(k))
		if err != nil {
			s.log.Warn("skipping malformed pending entry", logx.String("key", k), logx.Err(err))
			continue
		}
		table[id] = Pending{
			GroupID:  transport.ChatID(rec.GroupID),
			IssuedAt: fromEpochSeconds(rec.Time),
			Token:    rec.Token,
		}
	}
	return table, nil
}

func (s *fileStore) SavePending(ctx context.Context, table PendingTable) error {
	out := make(map[string]pendingRecord, len(table))
	for id, p := range table {
		out[id.String()] = pendingRecord{
			GroupID: int64(p.GroupID),
			Time:    toEpochSeconds(p.IssuedAt),
			Token:   p.Token,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.pendingPath, out)
}

// readJSON leaves v untouched when the file does not exist or is empty.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func toEpochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

func fromEpochSeconds(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
