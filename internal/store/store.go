package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"hedge-volume/internal/hedge"
)

// RuntimeStatus is a heartbeat snapshot of the running instance, written
// for operators and external watchdogs.
type RuntimeStatus struct {
	Mode            string          `json:"mode"`
	PID             int             `json:"pid"`
	State           string          `json:"state"`
	StartedAt       time.Time       `json:"started_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ActivePositions int             `json:"active_positions"`
	DailyVolume     decimal.Decimal `json:"daily_volume"`
	LastError       string          `json:"last_error,omitempty"`
}

// ActiveSnapshot persists the open positions so an operator can inspect
// exposure after a crash.
type ActiveSnapshot struct {
	Positions []hedge.Position `json:"positions"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type Store struct {
	root string
	mu   sync.Mutex
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// SaveActivePositions atomically replaces the active position snapshot.
// Callers pass value copies so no live position is read while another
// goroutine completes it.
func (s *Store) SaveActivePositions(positions []hedge.Position) error {
	if positions == nil {
		positions = []hedge.Position{}
	}
	snap := ActiveSnapshot{
		Positions: positions,
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.activePath(), snap)
}

// LoadActivePositions returns the last persisted active snapshot, reporting
// whether one existed.
func (s *Store) LoadActivePositions() (ActiveSnapshot, bool, error) {
	data, err := os.ReadFile(s.activePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ActiveSnapshot{}, false, nil
		}
		return ActiveSnapshot{}, false, err
	}
	var snap ActiveSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ActiveSnapshot{}, false, err
	}
	return snap, true, nil
}

// AppendCompleted appends a completed position to the dated history log.
func (s *Store) AppendCompleted(p *hedge.Position) error {
	at := time.Now().UTC()
	if p.ClosedAt != nil {
		at = p.ClosedAt.UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, "positions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, at.Format("2006-01-02")+".jsonl")
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (s *Store) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	status.PID = os.Getpid()
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.statusPath(), status)
}

func (s *Store) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(s.statusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

func (s *Store) activePath() string {
	return filepath.Join(s.root, "active_positions.json")
}

func (s *Store) statusPath() string {
	return filepath.Join(s.root, "runtime_status.json")
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return fsyncDirBestEffort(dir, path)
}

func fsyncDirBestEffort(dir, path string) error {
	// Best-effort directory fsync to improve rename durability across crashes.
	d, err := os.Open(dir)
	if err != nil {
		logrus.WithField("component", "store").Warnf("dir fsync skipped for %s: %v", path, err)
		return nil
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logrus.WithField("component", "store").Warnf("dir fsync failed for %s: %v", path, err)
		return nil
	}
	return nil
}
