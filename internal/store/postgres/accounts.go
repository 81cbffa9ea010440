package postgres

import (
	"context"
	"database/sql"

	"github.com/PortNumber53/social-scheduler/internal/models"
)

// AccountStore reads connected accounts. Rows are written by the OAuth service.
type AccountStore struct {
	db *sql.DB
}

func (s *AccountStore) ListActive(ctx context.Context, userID string) ([]*models.ConnectedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, external_account_id, display_name, status,
		       credential_ref, created_at, updated_at
		  FROM connected_accounts
		 WHERE user_id = $1
		   AND status = 'active'
		 ORDER BY platform ASC, created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.ConnectedAccount, 0)
	for rows.Next() {
		var a models.ConnectedAccount
		var status string
		var displayName sql.NullString
		if err := rows.Scan(&a.ID, &a.UserID, &a.Platform, &a.ExternalAccountID, &displayName,
			&status, &a.CredentialRef, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = models.AccountStatus(status)
		if displayName.Valid {
			a.DisplayName = &displayName.String
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
