package store

import (
	"context"
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
)

const userColumns = `id, email, name, phone, role, approval_status, created_at, updated_at, version`

type NewUser struct {
	Email          string
	Name           string
	Phone          string
	Role           models.Role
	ApprovalStatus string
}

// CreateUser mirrors an identity-provider account locally so orders and
// notifications can reference it.
func CreateUser(ctx context.Context, q database.Querier, u NewUser) (*models.User, error) {
	status := u.ApprovalStatus
	if status == "" {
		status = models.ApprovalStatusApproved
	}

	query := `
		INSERT INTO users (email, name, phone, role, approval_status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRowContext(ctx, query, u.Email, u.Name, u.Phone, u.Role, status))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, q database.Querier, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Phone,
		&user.Role,
		&user.ApprovalStatus,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Version,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
