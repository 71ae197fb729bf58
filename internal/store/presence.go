package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/swarmnet/pkg/models"
)

// ErrDeviceNotFound is returned by GetPresence for an unknown MAC.
var ErrDeviceNotFound = errors.New("device not found")

const presenceComponent = "presence"

// presenceMigrations creates the tables read by the reporting surface.
func presenceMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create devices, detections and telemetry tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS devices (
						mac           TEXT    PRIMARY KEY,
						first_seen_ts INTEGER NOT NULL,
						last_seen_ts  INTEGER NOT NULL,
						last_ip       TEXT,
						seen_count    INTEGER NOT NULL DEFAULT 0
					)`,
					`CREATE TABLE IF NOT EXISTS detections (
						id          INTEGER PRIMARY KEY AUTOINCREMENT,
						ts_ms       INTEGER NOT NULL,
						robot_id    TEXT,
						event_type  TEXT,
						mac         TEXT,
						ip          TEXT,
						confidence  REAL,
						task_id     TEXT,
						raw_payload TEXT NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS telemetry (
						id          INTEGER PRIMARY KEY AUTOINCREMENT,
						ts_ms       INTEGER NOT NULL,
						robot_id    TEXT,
						type        TEXT,
						raw_payload TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_detections_mac ON detections(mac)`,
					`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts_ms)`,
					`CREATE INDEX IF NOT EXISTS idx_telemetry_robot ON telemetry(robot_id, ts_ms)`,
					`CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen_ts)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

// Upsert statements. SQLite evaluates every SET expression against the
// pre-update row, so the CASE below compares with the old last_seen_ts.
const (
	upsertOrdered = `
		INSERT INTO devices (mac, first_seen_ts, last_seen_ts, last_ip, seen_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(mac) DO UPDATE SET
			seen_count   = devices.seen_count + 1,
			last_ip      = CASE WHEN excluded.last_seen_ts >= devices.last_seen_ts
			                    THEN excluded.last_ip ELSE devices.last_ip END,
			last_seen_ts = MAX(devices.last_seen_ts, excluded.last_seen_ts)`

	// Receipt order: the latest delivery wins even if it is older, so a
	// stale delivery can leave last_seen_ts below first_seen_ts.
	upsertReceiptOrder = `
		INSERT INTO devices (mac, first_seen_ts, last_seen_ts, last_ip, seen_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(mac) DO UPDATE SET
			seen_count   = devices.seen_count + 1,
			last_ip      = excluded.last_ip,
			last_seen_ts = excluded.last_seen_ts`
)

// PresenceStore appends detections and telemetry and maintains the derived
// per-MAC presence rows.
type PresenceStore struct {
	db         *SQLiteStore
	orderGuard bool
}

// NewPresenceStore migrates the presence schema and returns a store. With
// orderGuard set, a late-arriving older detection still counts but never
// moves last_seen_ts backwards or overwrites a newer last_ip.
func NewPresenceStore(ctx context.Context, db *SQLiteStore, orderGuard bool) (*PresenceStore, error) {
	if err := db.Migrate(ctx, presenceComponent, presenceMigrations()); err != nil {
		return nil, fmt.Errorf("migrate presence schema: %w", err)
	}
	return &PresenceStore{db: db, orderGuard: orderGuard}, nil
}

// RecordDetection appends rec to the detections log and, when it carries
// both a MAC and an IP, merges it into the presence row in the same
// transaction. rec.ID is set on success. Returns whether presence changed.
func (s *PresenceStore) RecordDetection(ctx context.Context, rec *models.DetectionRecord) (bool, error) {
	upsert := rec.MAC != "" && rec.IP != ""
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO detections (ts_ms, robot_id, event_type, mac, ip, confidence, task_id, raw_payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.TSMillis, nullString(rec.RobotID), nullString(string(rec.EventType)),
			nullString(rec.MAC), nullString(rec.IP), rec.Confidence,
			nullString(rec.TaskID), rec.RawPayload,
		)
		if err != nil {
			return fmt.Errorf("insert detection: %w", err)
		}
		if rec.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("detection id: %w", err)
		}
		if !upsert {
			return nil
		}
		return s.upsertPresence(ctx, tx, rec.MAC, rec.IP, rec.TSMillis)
	})
	if err != nil {
		return false, err
	}
	return upsert, nil
}

// UpsertPresence merges a single sighting into the presence row for mac.
func (s *PresenceStore) UpsertPresence(ctx context.Context, mac, ip string, tsMillis int64) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		return s.upsertPresence(ctx, tx, mac, ip, tsMillis)
	})
}

func (s *PresenceStore) upsertPresence(ctx context.Context, tx *sql.Tx, mac, ip string, tsMillis int64) error {
	stmt := upsertReceiptOrder
	if s.orderGuard {
		stmt = upsertOrdered
	}
	if _, err := tx.ExecContext(ctx, stmt, mac, tsMillis, tsMillis, nullString(ip)); err != nil {
		return fmt.Errorf("upsert presence %s: %w", mac, err)
	}
	return nil
}

// AppendTelemetry appends rec to the telemetry log. rec.ID is set on success.
func (s *PresenceStore) AppendTelemetry(ctx context.Context, rec *models.TelemetryRecord) error {
	res, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO telemetry (ts_ms, robot_id, type, raw_payload) VALUES (?, ?, ?, ?)`,
		rec.TSMillis, nullString(rec.RobotID), nullString(string(rec.Type)), rec.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("telemetry id: %w", err)
	}
	return nil
}

// GetPresence returns the presence row for mac.
func (s *PresenceStore) GetPresence(ctx context.Context, mac string) (*models.DevicePresence, error) {
	var (
		d      models.DevicePresence
		lastIP sql.NullString
	)
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT mac, first_seen_ts, last_seen_ts, last_ip, seen_count
		FROM devices WHERE mac = ?`, mac,
	).Scan(&d.MAC, &d.FirstSeenTS, &d.LastSeenTS, &lastIP, &d.SeenCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, mac)
	}
	if err != nil {
		return nil, fmt.Errorf("get presence %s: %w", mac, err)
	}
	d.LastIP = lastIP.String
	return &d, nil
}

// ListPresence returns every presence row, most recently seen first, with
// the online flag derived from now and threshold.
func (s *PresenceStore) ListPresence(ctx context.Context, now time.Time, threshold time.Duration) ([]models.DeviceStatus, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT mac, first_seen_ts, last_seen_ts, last_ip, seen_count
		FROM devices ORDER BY last_seen_ts DESC, mac`)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	defer rows.Close()

	var out []models.DeviceStatus
	for rows.Next() {
		var (
			d      models.DevicePresence
			lastIP sql.NullString
		)
		if err := rows.Scan(&d.MAC, &d.FirstSeenTS, &d.LastSeenTS, &lastIP, &d.SeenCount); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		d.LastIP = lastIP.String
		out = append(out, d.StatusAt(now, threshold))
	}
	return out, rows.Err()
}

// ListDetections returns up to limit detections, newest first.
func (s *PresenceStore) ListDetections(ctx context.Context, limit int) ([]models.DetectionRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, ts_ms, robot_id, event_type, mac, ip, confidence, task_id, raw_payload
		FROM detections ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var out []models.DetectionRecord
	for rows.Next() {
		var (
			r                             models.DetectionRecord
			robot, event, mac, ip, taskID sql.NullString
			confidence                    sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.TSMillis, &robot, &event, &mac, &ip, &confidence, &taskID, &r.RawPayload); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		r.RobotID = robot.String
		r.EventType = models.EventType(event.String)
		r.MAC = mac.String
		r.IP = ip.String
		r.Confidence = confidence.Float64
		r.TaskID = taskID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTelemetry returns up to limit telemetry records, newest first.
func (s *PresenceStore) ListTelemetry(ctx context.Context, limit int) ([]models.TelemetryRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, ts_ms, robot_id, type, raw_payload
		FROM telemetry ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	defer rows.Close()

	var out []models.TelemetryRecord
	for rows.Next() {
		var (
			r          models.TelemetryRecord
			robot, typ sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TSMillis, &robot, &typ, &r.RawPayload); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		r.RobotID = robot.String
		r.Type = models.MessageType(typ.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes table sizes.
type Stats struct {
	Devices    int64 `json:"devices"`
	Detections int64 `json:"detections"`
	Telemetry  int64 `json:"telemetry"`
}

// Stats returns row counts for the three presence tables.
func (s *PresenceStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM devices),
			(SELECT COUNT(*) FROM detections),
			(SELECT COUNT(*) FROM telemetry)`,
	).Scan(&st.Devices, &st.Detections, &st.Telemetry)
	if err != nil {
		return Stats{}, fmt.Errorf("presence stats: %w", err)
	}
	return st, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
