// Package calllog records finished calls.
//
// A [Record] is written once per call that reached the ongoing state, when
// that call ends. [MemStore] keeps records in process memory; the postgres
// subpackage persists them.
package calllog

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction tells who placed the call.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// EndReason tells how a call ended.
type EndReason string

const (
	EndHangUp         EndReason = "hang_up"
	EndConnectionLost EndReason = "connection_lost"
)

// ErrInvalidRecord is returned by [Store.Record] for records missing a peer
// or with an end before their start.
var ErrInvalidRecord = errors.New("calllog: invalid record")

// Record describes one finished call.
type Record struct {
	ID        uuid.UUID
	PeerID    string
	PeerName  string
	Direction Direction
	StartedAt time.Time
	EndedAt   time.Time
	EndReason EndReason
}

// Duration is EndedAt minus StartedAt.
func (r Record) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Validate reports whether r can be stored.
func (r Record) Validate() error {
	switch {
	case r.PeerID == "":
		return errors.Join(ErrInvalidRecord, errors.New("peer id is empty"))
	case r.Direction != DirectionOutgoing && r.Direction != DirectionIncoming:
		return errors.Join(ErrInvalidRecord, errors.New("unknown direction "+string(r.Direction)))
	case r.EndedAt.Before(r.StartedAt):
		return errors.Join(ErrInvalidRecord, errors.New("ended before it started"))
	}
	return nil
}

// Store persists call records. Implementations must be safe for concurrent use.
type Store interface {
	// Record stores r. A zero r.ID is replaced by a fresh random UUID.
	Record(ctx context.Context, r Record) error

	// Recent returns up to n records, most recently ended first.
	Recent(ctx context.Context, n int) ([]Record, error)
}

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] bounded to a fixed number of records.
type MemStore struct {
	mu      sync.Mutex
	records []Record
	limit   int
}

// NewMemStore returns a MemStore keeping the last limit records.
// limit <= 0 keeps everything.
func NewMemStore(limit int) *MemStore {
	return &MemStore{limit: limit}
}

// Record implements [Store].
func (s *MemStore) Record(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	if s.limit > 0 && len(s.records) > s.limit {
		s.records = slices.Delete(s.records, 0, len(s.records)-s.limit)
	}
	return nil
}

// Recent implements [Store].
func (s *MemStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := slices.Clone(s.records)
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Record) int { return b.EndedAt.Compare(a.EndedAt) })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
