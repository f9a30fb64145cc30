package sqlite

import (
	"context"
	"fmt"
	"time"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// Append adds msgs to the session tail and slides expires_at forward, all
// in one write transaction.
func (s *Store) Append(ctx context.Context, sessionID string, msgs []sentinel.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	expiresAt := s.now().Add(s.ttl).UTC().Format(time.RFC3339)

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, expires_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET expires_at = excluded.expires_at`,
		sessionID, expiresAt,
	); err != nil {
		return fmt.Errorf("sqlite: upsert session: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_messages WHERE session_id = ?`,
		sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("sqlite: next seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_messages (session_id, seq, role, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		if _, err := stmt.ExecContext(ctx, sessionID, next+i, m.Role, m.Content); err != nil {
			return fmt.Errorf("sqlite: insert message: %w", err)
		}
	}
	return tx.Commit()
}

// Messages returns the session's messages oldest-first. Expired or unknown
// sessions come back empty.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]sentinel.Message, error) {
	nowStr := s.now().UTC().Format(time.RFC3339)
	rows, err := s.read.QueryContext(ctx,
		`SELECT m.role, m.content
		 FROM session_messages m
		 JOIN sessions s ON s.id = m.session_id
		 WHERE m.session_id = ? AND s.expires_at > ?
		 ORDER BY m.seq`,
		sessionID, nowStr,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query messages: %w", err)
	}
	defer rows.Close()

	var out []sentinel.Message
	for rows.Next() {
		var m sentinel.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ResetTTL extends a session's lifetime without writing messages. Unknown
// sessions are a no-op.
func (s *Store) ResetTTL(ctx context.Context, sessionID string) error {
	expiresAt := s.now().Add(s.ttl).UTC().Format(time.RFC3339)
	_, err := s.write.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ?`, expiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: reset ttl: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired sessions; their messages go with them via
// the FK cascade. Returns the number of sessions removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	nowStr := s.now().UTC().Format(time.RFC3339)
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, nowStr)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge expired: %w", err)
	}
	return res.RowsAffected()
}
