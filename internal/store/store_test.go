package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/hedge"
)

func testPosition(id string) *hedge.Position {
	closedAt := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	return &hedge.Position{
		ID:         id,
		Symbol:     "BTC/USDC",
		LongVenue:  "venuea",
		ShortVenue: "venueb",
		Size:       decimal.RequireFromString("0.5"),
		LongPrice:  decimal.RequireFromString("100"),
		ShortPrice: decimal.RequireFromString("99.5"),
		OpenedAt:   closedAt.Add(-time.Hour),
		ClosedAt:   &closedAt,
		Status:     hedge.StatusClosed,
		PnL:        decimal.RequireFromString("0.25"),
	}
}

func TestActivePositionsRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, found, err := s.LoadActivePositions(); err != nil || found {
		t.Fatalf("empty load = %v found=%v, want clean miss", err, found)
	}

	p := testPosition("p1")
	p.Status = hedge.StatusOpen
	p.ClosedAt = nil
	if err := s.SaveActivePositions([]hedge.Position{*p}); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, found, err := s.LoadActivePositions()
	if err != nil || !found {
		t.Fatalf("load = %v found=%v, want snapshot", err, found)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].ID != "p1" {
		t.Fatalf("positions = %+v, want p1", snap.Positions)
	}
	if snap.Positions[0].Size.Cmp(p.Size) != 0 {
		t.Fatalf("size = %s, want %s", snap.Positions[0].Size, p.Size)
	}
}

func TestAppendCompletedWritesDatedLog(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.AppendCompleted(testPosition("p1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendCompleted(testPosition("p2")); err != nil {
		t.Fatalf("append: %v", err)
	}

	path := filepath.Join(dir, "positions", "2026-03-01.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var p hedge.Position
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			t.Fatalf("bad history line: %v", err)
		}
		ids = append(ids, p.ID)
	}
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Fatalf("ids = %v, want [p1 p2]", ids)
	}
}

func TestRuntimeStatusRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.SaveRuntimeStatus(RuntimeStatus{
		Mode:        "paper",
		State:       "running",
		DailyVolume: decimal.RequireFromString("1.5"),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	status, found, err := s.LoadRuntimeStatus()
	if err != nil || !found {
		t.Fatalf("load = %v found=%v, want status", err, found)
	}
	if status.Mode != "paper" || status.State != "running" {
		t.Fatalf("status = %+v", status)
	}
	if status.PID != os.Getpid() {
		t.Fatalf("pid = %d, want %d", status.PID, os.Getpid())
	}
	if status.UpdatedAt.IsZero() {
		t.Fatal("updated_at not set")
	}
}
