package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Command status values.
const (
	StatusAccepted = "accepted"
	StatusFailed   = "failed"
)

// ErrDeviceRequired is returned when a record has no device id.
var ErrDeviceRequired = errors.New("history: device id is required")

// SnapshotEntry is one stored network snapshot.
type SnapshotEntry struct {
	ID         int64               `json:"id"`
	DeviceID   string              `json:"device_id"`
	Datapoints map[int]string      `json:"datapoints"`
	TimerInfo  map[string]any      `json:"timer_info"`
	Alerts     []cloud.AlertRecord `json:"alerts"`
	FetchedAt  time.Time           `json:"fetched_at"`
}

// CommandEntry is one issued command batch and how it ended.
type CommandEntry struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Updates  map[int]string `json:"updates"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	IssuedAt time.Time      `json:"issued_at"`
}

// Repository stores snapshots and commands in the snapshots and commands
// tables. Timestamps are stored as Unix milliseconds.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository over an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *Repository: Repository instance ready for use
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// RecordSnapshot stores a snapshot for a device. A snapshot with no
// FetchedAt is stored with the current time.
func (r *Repository) RecordSnapshot(ctx context.Context, deviceID string, snap *coordinator.Snapshot) error {
	if deviceID == "" {
		return ErrDeviceRequired
	}
	if snap == nil {
		return fmt.Errorf("history: nil snapshot")
	}

	datapoints := snap.Datapoints
	if datapoints == nil {
		datapoints = map[int]string{}
	}
	dps, err := json.Marshal(datapoints)
	if err != nil {
		return fmt.Errorf("marshalling datapoints: %w", err)
	}
	timer, err := json.Marshal(nonNilMap(snap.TimerInfo))
	if err != nil {
		return fmt.Errorf("marshalling timer info: %w", err)
	}
	alerts := snap.Alerts
	if alerts == nil {
		alerts = []cloud.AlertRecord{}
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("marshalling alerts: %w", err)
	}

	fetchedAt := snap.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = r.now()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO snapshots (device_id, datapoints, timer_info, alerts, fetched_at)
		 VALUES (?, ?, ?, ?, ?)`,
		deviceID, string(dps), string(timer), string(alertsJSON), fetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// RecordCommand stores a command outcome. An empty ID is filled with a
// new UUID and an empty IssuedAt with the current time; the stored entry
// is returned.
func (r *Repository) RecordCommand(ctx context.Context, entry CommandEntry) (CommandEntry, error) {
	if entry.DeviceID == "" {
		return entry, ErrDeviceRequired
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.IssuedAt.IsZero() {
		entry.IssuedAt = r.now()
	}
	if entry.Status == "" {
		entry.Status = StatusAccepted
	}
	if entry.Updates == nil {
		entry.Updates = map[int]string{}
	}

	updates, err := json.Marshal(entry.Updates)
	if err != nil {
		return entry, fmt.Errorf("marshalling updates: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO commands (id, device_id, updates, status, error, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, string(updates), entry.Status, entry.Error, entry.IssuedAt.UnixMilli(),
	)
	if err != nil {
		return entry, fmt.Errorf("inserting command: %w", err)
	}
	return entry, nil
}

// ListSnapshots returns stored snapshots, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []SnapshotEntry: entries ordered by fetched_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *Repository) ListSnapshots(ctx context.Context, limit int) ([]SnapshotEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, datapoints, timer_info, alerts, fetched_at
		 FROM snapshots
		 ORDER BY fetched_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	entries := []SnapshotEntry{}
	for rows.Next() {
		var e SnapshotEntry
		var dps, timer, alerts string
		var fetchedAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &dps, &timer, &alerts, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(dps), &e.Datapoints); err != nil {
			return nil, fmt.Errorf("unmarshalling datapoints: %w", err)
		}
		if err := json.Unmarshal([]byte(timer), &e.TimerInfo); err != nil {
			return nil, fmt.Errorf("unmarshalling timer info: %w", err)
		}
		if err := json.Unmarshal([]byte(alerts), &e.Alerts); err != nil {
			return nil, fmt.Errorf("unmarshalling alerts: %w", err)
		}
		e.FetchedAt = time.UnixMilli(fetchedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return entries, nil
}

// ListCommands returns stored commands, newest first. Limit is clamped
// as in ListSnapshots.
func (r *Repository) ListCommands(ctx context.Context, limit int) ([]CommandEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, updates, status, error, issued_at
		 FROM commands
		 ORDER BY issued_at DESC
		 LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	entries := []CommandEntry{}
	for rows.Next() {
		var e CommandEntry
		var updates string
		var issuedAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &updates, &e.Status, &e.Error, &issuedAt); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if err := json.Unmarshal([]byte(updates), &e.Updates); err != nil {
			return nil, fmt.Errorf("unmarshalling updates: %w", err)
		}
		e.IssuedAt = time.UnixMilli(issuedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return entries, nil
}

// Prune deletes snapshots and commands older than olderThan.
//
// Returns:
//   - int64: total rows deleted across both tables
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := r.now().Add(-olderThan).UnixMilli()

	var total int64
	for _, q := range []string{
		"DELETE FROM snapshots WHERE fetched_at < ?",
		"DELETE FROM commands WHERE issued_at < ?",
	} {
		result, err := r.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning history: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
