// Package store implements MCPHawk's durable Message Store (C1): an
// append-only record keyed by log_id, indexed by time, with bounded reads,
// id lookup, substring search, and aggregation support for the analytics
// engine.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver, pure Go / cgo-free

	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	log_id TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	src_ip TEXT NOT NULL,
	dst_ip TEXT NOT NULL,
	src_port INTEGER,
	dst_port INTEGER,
	direction TEXT NOT NULL,
	message TEXT NOT NULL,
	transport_type TEXT,
	metadata TEXT,
	pid INTEGER
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_transport ON logs(transport_type);
`

// Store wraps a SQLite database implementing the C1 Message Store contract.
// SQLite supports only one concurrent writer; WAL mode lets concurrent
// readers proceed without blocking it, and the capture engine is the sole
// logical writer per spec §4.1/§5, so a single-connection pool is both
// sufficient and simplest.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite-backed store at path,
// applies pragmas, and runs the forward-only schema migration.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStoreUnavailable, err)
	}
	// SQLite's single-writer model matches C1's single-logical-writer
	// guarantee: one connection avoids SQLITE_BUSY races entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: applying %q: %v", ErrStoreUnavailable, p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ErrStoreUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.migrateColumns(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateColumns adds columns missing from an older on-disk schema with
// null defaults, forward-only (spec §4.1, §6, §9 open question).
func (s *Store) migrateColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(logs)`)
	if err != nil {
		return fmt.Errorf("%w: reading table_info: %v", ErrStoreUnavailable, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scanning table_info: %v", ErrStoreUnavailable, err)
		}
		existing[name] = true
	}
	rows.Close()

	wanted := map[string]string{
		"transport_type": "TEXT",
		"metadata":       "TEXT",
		"pid":            "INTEGER",
	}
	for col, colType := range wanted {
		if existing[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE logs ADD COLUMN %s %s", col, colType)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: adding column %s: %v", ErrStoreUnavailable, col, err)
		}
		logger.Info("store: migrated schema, added column %s", col)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert atomically appends rec, failing with ErrDuplicateID if its log_id
// already exists (spec §4.1).
func (s *Store) Insert(ctx context.Context, rec *dto.MessageRecord) error {
	if rec.LogID == "" || !dto.IsWellFormedJSONRPC(rec.Message) {
		return ErrMalformedRecord
	}

	var metaJSON sql.NullString
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshaling metadata: %v", ErrMalformedRecord, err)
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (log_id, timestamp, src_ip, dst_ip, src_port, dst_port, direction, message, transport_type, metadata, pid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.LogID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.SrcIP, rec.DstIP,
		nullableInt(rec.SrcPort), nullableInt(rec.DstPort), string(rec.Direction), rec.Message,
		string(rec.TransportType), metaJSON, nullableInt(rec.PID))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// FetchRecent returns the newest limit records, newest-first.
func (s *Store) FetchRecent(ctx context.Context, limit int) ([]*dto.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+` ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FetchPage returns a stable newest-first page ordered by log_id, for
// pagination that doesn't shift under concurrent inserts mid-scroll.
func (s *Store) FetchPage(ctx context.Context, limit, offset int) ([]*dto.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+` ORDER BY log_id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetByID returns the record with the given log_id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, logID string) (*dto.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+` WHERE log_id = ?`, logID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// SearchFilters narrows a Search call (spec §4.1).
type SearchFilters struct {
	MessageType   dto.MessageType
	TransportType dto.TransportType
}

// Search returns records whose message contains substring (case-insensitive),
// newest-first, optionally narrowed by message type and/or transport type.
func (s *Store) Search(ctx context.Context, substring string, filters SearchFilters, limit int) ([]*dto.MessageRecord, error) {
	query := baseSelect + ` WHERE message LIKE ? COLLATE NOCASE`
	args := []any{"%" + substring + "%"}
	if filters.TransportType != "" {
		query += ` AND transport_type = ?`
		args = append(args, string(filters.TransportType))
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit*4) // over-fetch to allow post-filtering by message_type below
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if filters.MessageType == "" {
		if limit > 0 && len(recs) > limit {
			recs = recs[:limit]
		}
		return recs, nil
	}

	filtered := make([]*dto.MessageRecord, 0, len(recs))
	for _, r := range recs {
		if dto.ClassifyMessageType(r.Message) == filters.MessageType {
			filtered = append(filtered, r)
			if limit > 0 && len(filtered) == limit {
				break
			}
		}
	}
	return filtered, nil
}

// Clear removes all records. Test-only (spec §4.1).
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM logs`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// All returns every record in ascending timestamp order, for the
// analytics engine (C7), which needs a chronological walk.
func (s *Store) All(ctx context.Context) ([]*dto.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+` ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// InWindow returns every record with timestamp in [start, end] inclusive,
// ascending.
func (s *Store) InWindow(ctx context.Context, start, end time.Time) ([]*dto.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+` WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MinMaxTimestamp returns the earliest and latest record timestamps, used
// to default an analytics window's start/end (spec §4.7). ok is false for
// an empty store.
func (s *Store) MinMaxTimestamp(ctx context.Context) (min, max time.Time, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT MIN(timestamp), MAX(timestamp) FROM logs`)
	var minS, maxS sql.NullString
	if err := row.Scan(&minS, &maxS); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !minS.Valid || !maxS.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	min, _ = time.Parse(time.RFC3339Nano, minS.String)
	max, _ = time.Parse(time.RFC3339Nano, maxS.String)
	return min, max, true, nil
}

const baseSelect = `SELECT log_id, timestamp, src_ip, dst_ip, src_port, dst_port, direction, message, transport_type, metadata, pid FROM logs`

func scanRecords(rows *sql.Rows) ([]*dto.MessageRecord, error) {
	var out []*dto.MessageRecord
	for rows.Next() {
		rec, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func scanOne(rows *sql.Rows) (*dto.MessageRecord, error) {
	var (
		rec                      dto.MessageRecord
		tsStr                    string
		srcPort, dstPort, pid    sql.NullInt64
		transportType, metaJSON  sql.NullString
	)
	if err := rows.Scan(&rec.LogID, &tsStr, &rec.SrcIP, &rec.DstIP, &srcPort, &dstPort,
		&rec.Direction, &rec.Message, &transportType, &metaJSON, &pid); err != nil {
		return nil, fmt.Errorf("%w: scanning row: %v", ErrStoreUnavailable, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, tsStr)
	}
	if err == nil {
		rec.Timestamp = ts
	}

	if srcPort.Valid {
		v := int(srcPort.Int64)
		rec.SrcPort = &v
	}
	if dstPort.Valid {
		v := int(dstPort.Int64)
		rec.DstPort = &v
	}
	if pid.Valid {
		v := int(pid.Int64)
		rec.PID = &v
	}
	if transportType.Valid {
		rec.TransportType = dto.TransportType(transportType.String)
	} else {
		rec.TransportType = dto.TransportUnknown
	}
	if metaJSON.Valid && metaJSON.String != "" {
		var m dto.RecordMetadata
		if err := json.Unmarshal([]byte(metaJSON.String), &m); err == nil {
			rec.Metadata = &m
		}
	}
	return &rec, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
