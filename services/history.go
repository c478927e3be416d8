package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/floworx-io/floworx/db"
)

// HistoryService queries the inbound email log for the historical
// predicates. Individual unreadable rows are skipped so one bad record
// never aborts an evaluation.
type HistoryService struct {
	PG *sql.DB
}

func NewHistoryService(pg *sql.DB) *HistoryService {
	return &HistoryService{PG: pg}
}

// RecentFromSender returns the sender's inbound messages within the
// trailing window, newest first.
func (s *HistoryService) RecentFromSender(ctx context.Context, userID, sender string, window time.Duration) ([]db.EmailLog, error) {
	query := `
		SELECT id, user_id, sender, COALESCE(subject, '') as subject, received_at, responded, responded_at
		FROM email_logs
		WHERE user_id = $1 AND LOWER(sender) = LOWER($2) AND received_at >= $3
		ORDER BY received_at DESC`

	rows, err := s.PG.QueryContext(ctx, query, userID, sender, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to query email history: %w", err)
	}
	defer rows.Close()

	var logs []db.EmailLog
	for rows.Next() {
		var entry db.EmailLog
		var respondedAt sql.NullTime

		err := rows.Scan(&entry.ID, &entry.UserID, &entry.Sender, &entry.Subject,
			&entry.ReceivedAt, &entry.Responded, &respondedAt)
		if err != nil {
			log.Printf("Skipping unreadable email log row for user %s: %v", userID, err)
			continue
		}
		if respondedAt.Valid {
			entry.RespondedAt = &respondedAt.Time
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

// CountFromSender counts the sender's inbound messages in the window.
func (s *HistoryService) CountFromSender(ctx context.Context, userID, sender string, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM email_logs
		WHERE user_id = $1 AND LOWER(sender) = LOWER($2) AND received_at >= $3`

	var count int
	err := s.PG.QueryRowContext(ctx, query, userID, sender, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count email history: %w", err)
	}
	return count, nil
}

// RecordInbound logs one inbound email for future historical checks.
func (s *HistoryService) RecordInbound(ctx context.Context, userID string, email *db.Email) error {
	query := `
		INSERT INTO email_logs (id, user_id, sender, subject, received_at, responded)
		VALUES ($1, $2, $3, $4, $5, false)
		ON CONFLICT (id) DO NOTHING`

	id := email.ID
	if id == "" {
		return fmt.Errorf("email id is required to record history")
	}

	_, err := s.PG.ExecContext(ctx, query, id, userID, email.From, email.Subject, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record inbound email: %w", err)
	}
	return nil
}

// MarkResponded records that an inbound email received a reply.
func (s *HistoryService) MarkResponded(ctx context.Context, emailID string) error {
	query := `UPDATE email_logs SET responded = true, responded_at = $1 WHERE id = $2`
	_, err := s.PG.ExecContext(ctx, query, time.Now(), emailID)
	if err != nil {
		return fmt.Errorf("failed to mark email responded: %w", err)
	}
	return nil
}
