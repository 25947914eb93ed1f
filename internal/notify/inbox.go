package notify

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"social-rtc/internal/domain"
)

// SQLiteInbox implements domain.InboxStore using SQLite so the
// notification inbox survives restarts.
type SQLiteInbox struct {
	db *sql.DB
}

// NewSQLiteInbox opens (or creates) a SQLite database at dbPath and
// runs the schema migration.
func NewSQLiteInbox(dbPath string) (*SQLiteInbox, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open inbox db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate inbox db: %w", err)
	}
	return &SQLiteInbox{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL DEFAULT '',
			actor      TEXT,
			group_id   TEXT NOT NULL DEFAULT '',
			actionable INTEGER NOT NULL DEFAULT 0,
			read       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteInbox) Close() error {
	return s.db.Close()
}

func (s *SQLiteInbox) Insert(n *domain.UINotification) error {
	var actor sql.NullString
	if n.Actor != nil {
		actor = sql.NullString{String: n.Actor.DisplayName(), Valid: true}
	}
	_, err := s.db.Exec(
		"INSERT INTO notifications (id, kind, title, body, actor, group_id, actionable, read, created_at, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		n.ID, string(n.Kind), n.Title, n.Body, actor, n.GroupID,
		boolInt(n.Actionable), boolInt(n.Read),
		n.CreatedAt.UTC().Format(time.RFC3339Nano), string(n.Data),
	)
	return err
}

func (s *SQLiteInbox) List(limit int) ([]*domain.UINotification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		"SELECT id, kind, title, body, actor, group_id, actionable, read, created_at, data FROM notifications ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.UINotification
	for rows.Next() {
		var (
			n          domain.UINotification
			kind       string
			actor      sql.NullString
			actionable int
			read       int
			createdAt  string
			data       string
		)
		if err := rows.Scan(&n.ID, &kind, &n.Title, &n.Body, &actor, &n.GroupID, &actionable, &read, &createdAt, &data); err != nil {
			return nil, err
		}
		n.Kind = domain.EventType(kind)
		if actor.Valid {
			n.Actor = &domain.Actor{Nickname: actor.String}
		}
		n.Actionable = actionable != 0
		n.Read = read != 0
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			n.CreatedAt = ts
		}
		if data != "" {
			n.Data = []byte(data)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *SQLiteInbox) UnreadCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM notifications WHERE read = 0").Scan(&count)
	return count, err
}

func (s *SQLiteInbox) MarkRead(id string) error {
	res, err := s.db.Exec("UPDATE notifications SET read = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (s *SQLiteInbox) MarkAllRead() error {
	_, err := s.db.Exec("UPDATE notifications SET read = 1 WHERE read = 0")
	return err
}

func (s *SQLiteInbox) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// Prune removes read notifications created before olderThan and
// returns how many were removed. Unread entries are kept regardless of
// age.
func (s *SQLiteInbox) Prune(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(
		"DELETE FROM notifications WHERE read = 1 AND created_at < ?",
		olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.InboxStore = (*SQLiteInbox)(nil)
