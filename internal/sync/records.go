// Package sync drives appointment-to-calendar synchronization: the
// per-appointment orchestrator, the batch coordinator, and the queue-backed
// worker path.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioflow/calsync/internal/calendar"
)

// RecordStore persists the appointment/external-event linkage. Get returns
// (nil, nil) when no record exists yet.
type RecordStore interface {
	Get(ctx context.Context, appointmentID string) (*calendar.SyncRecord, error)
	Upsert(ctx context.Context, rec *calendar.SyncRecord) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRecordStore keeps sync records in the appointment_sync_records table.
type PGRecordStore struct {
	pool querier
}

func NewPGRecordStore(pool *pgxpool.Pool) *PGRecordStore {
	if pool == nil {
		panic("sync: pgx pool required")
	}
	return &PGRecordStore{pool: pool}
}

func newPGRecordStoreWithQuerier(q querier) *PGRecordStore {
	if q == nil {
		panic("sync: querier required")
	}
	return &PGRecordStore{pool: q}
}

func (s *PGRecordStore) Get(ctx context.Context, appointmentID string) (*calendar.SyncRecord, error) {
	query := `
		SELECT appointment_id, external_event_id, sync_status, last_sync_at, error_message
		FROM appointment_sync_records
		WHERE appointment_id = $1
	`
	var (
		rec        calendar.SyncRecord
		lastSyncAt *time.Time
	)
	if err := s.pool.QueryRow(ctx, query, appointmentID).Scan(
		&rec.AppointmentID,
		&rec.ExternalEventID,
		&rec.Status,
		&lastSyncAt,
		&rec.ErrorMessage,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sync: select record: %w", err)
	}
	rec.LastSyncAt = lastSyncAt
	return &rec, nil
}

func (s *PGRecordStore) Upsert(ctx context.Context, rec *calendar.SyncRecord) error {
	query := `
		INSERT INTO appointment_sync_records (appointment_id, external_event_id, sync_status, last_sync_at, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO UPDATE SET
			external_event_id = EXCLUDED.external_event_id,
			sync_status = EXCLUDED.sync_status,
			last_sync_at = EXCLUDED.last_sync_at,
			error_message = EXCLUDED.error_message,
			updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query,
		rec.AppointmentID,
		rec.ExternalEventID,
		rec.Status,
		rec.LastSyncAt,
		rec.ErrorMessage,
	); err != nil {
		return fmt.Errorf("sync: upsert record: %w", err)
	}
	return nil
}

// MemoryRecordStore is an in-process RecordStore used in tests and local
// development.
type MemoryRecordStore struct {
	mu      stdsync.RWMutex
	records map[string]calendar.SyncRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]calendar.SyncRecord)}
}

func (s *MemoryRecordStore) Get(ctx context.Context, appointmentID string) (*calendar.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[appointmentID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryRecordStore) Upsert(ctx context.Context, rec *calendar.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AppointmentID] = *rec
	return nil
}
