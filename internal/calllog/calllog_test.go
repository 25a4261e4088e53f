package calllog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(peer string, endOffset time.Duration) Record {
	return Record{
		PeerID:    peer,
		Direction: DirectionOutgoing,
		StartedAt: t0,
		EndedAt:   t0.Add(endOffset),
		EndReason: EndHangUp,
	}
}

func TestMemStore_RecentOrder(t *testing.T) {
	t.Parallel()

	s := NewMemStore(0)
	for _, r := range []Record{rec("a", time.Minute), rec("b", 3*time.Minute), rec("c", 2*time.Minute)} {
		if err := s.Record(t.Context(), r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(t.Context(), 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].PeerID != "b" || got[1].PeerID != "c" {
		t.Errorf("Recent(2) = %+v, want b then c", got)
	}
	for _, r := range got {
		if r.ID == uuid.Nil {
			t.Error("record stored without id")
		}
	}
}

func TestMemStore_KeepsID(t *testing.T) {
	t.Parallel()

	s := NewMemStore(0)
	r := rec("a", time.Second)
	r.ID = uuid.New()
	if err := s.Record(t.Context(), r); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, _ := s.Recent(t.Context(), 1)
	if got[0].ID != r.ID {
		t.Errorf("id = %v, want %v", got[0].ID, r.ID)
	}
}

func TestMemStore_Limit(t *testing.T) {
	t.Parallel()

	s := NewMemStore(2)
	for i := range 5 {
		if err := s.Record(t.Context(), rec(string(rune('a'+i)), time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, _ := s.Recent(t.Context(), 10)
	if len(got) != 2 || got[0].PeerID != "e" || got[1].PeerID != "d" {
		t.Errorf("Recent = %+v, want e then d", got)
	}
}

func TestMemStore_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    Record
	}{
		{"empty peer", rec("", time.Second)},
		{"ends early", rec("a", -time.Second)},
		{"bad direction", Record{PeerID: "a", Direction: "sideways", StartedAt: t0, EndedAt: t0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := NewMemStore(0).Record(t.Context(), tc.r)
			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestMemStore_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := NewMemStore(0).Record(ctx, rec("a", time.Second)); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()

	s := NewMemStore(0)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			_ = s.Record(t.Context(), rec("p", time.Duration(i)*time.Second))
		})
	}
	wg.Wait()
	got, _ := s.Recent(t.Context(), -1)
	if len(got) != 50 {
		t.Errorf("len = %d, want 50", len(got))
	}
}

func TestRecordDuration(t *testing.T) {
	t.Parallel()

	if got := rec("a", 90*time.Second).Duration(); got != 90*time.Second {
		t.Errorf("Duration = %v", got)
	}
}
