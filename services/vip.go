package services

import (
	"context"
	"database/sql"
)

// VIPRegistry answers whether a sender address belongs to one of the
// user's VIP customers. Kept as a narrow interface so the backing data
// source (CRM sync, config list) can change without touching the
// evaluator.
type VIPRegistry interface {
	IsVIP(ctx context.Context, userID, email string) (bool, error)
}

// VIPService is the default registry, backed by the vip_contacts table.
type VIPService struct {
	PG *sql.DB
}

func NewVIPService(pg *sql.DB) *VIPService {
	return &VIPService{PG: pg}
}

func (s *VIPService) IsVIP(ctx context.Context, userID, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM vip_contacts WHERE user_id = $1 AND LOWER(email) = LOWER($2))`

	var exists bool
	if err := s.PG.QueryRowContext(ctx, query, userID, email).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
