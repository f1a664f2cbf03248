package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
)

const notificationColumns = `id, user_id, title, message, type, order_id, is_read, created_at, read_at`

type NewNotification struct {
	UserID  int64
	Title   string
	Message string
	Type    string
	OrderID *int64
}

func CreateNotification(ctx context.Context, q database.Querier, n NewNotification) (*models.Notification, error) {
	kind := n.Type
	if kind == "" {
		kind = models.NotificationTypeOrder
	}

	query := `
		INSERT INTO notifications (user_id, title, message, type, order_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
		RETURNING ` + notificationColumns

	notification, err := scanNotification(q.QueryRowContext(ctx, query, n.UserID, n.Title, n.Message, kind, n.OrderID))
	if err != nil {
		if database.IsForeignKeyViolation(err, "notifications_user_id_fkey") {
			return nil, database.ErrUserNotFound
		}
		if database.IsForeignKeyViolation(err, "notifications_order_id_fkey") {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("create notification: %w", err)
	}

	return notification, nil
}

// ListNotifications returns a user's notifications newest first.
func ListNotifications(ctx context.Context, q database.Querier, userID int64, unreadOnly bool, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND (NOT $2::boolean OR NOT is_read)`,
		userID, unreadOnly).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := q.QueryContext(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE user_id = $1 AND (NOT $2::boolean OR NOT is_read)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		userID, unreadOnly, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(notifications, total, page, pageSize), nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	n := &models.Notification{}
	var (
		orderID sql.NullInt64
		readAt  sql.NullTime
	)

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Message,
		&n.Type,
		&orderID,
		&n.IsRead,
		&n.CreatedAt,
		&readAt,
	)
	if err != nil {
		return nil, err
	}

	if orderID.Valid {
		n.OrderID = &orderID.Int64
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	return n, nil
}
