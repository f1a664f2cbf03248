package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/store"
	"github.com/cenkalti/backoff/v4"
)

// InAppChannel writes the notification center row. It uses its own
// connection from the pool, never the business transaction.
type InAppChannel struct {
	db *sql.DB
}

func NewInAppChannel(db *sql.DB) *InAppChannel {
	return &InAppChannel{db: db}
}

func (c *InAppChannel) Name() string { return "in_app" }

func (c *InAppChannel) Send(ctx context.Context, msg Message) error {
	n := store.NewNotification{
		UserID:  msg.RecipientID,
		Title:   msg.Title,
		Message: msg.Body,
		Type:    models.NotificationTypeOrder,
	}
	if msg.OrderID != 0 {
		orderID := msg.OrderID
		n.OrderID = &orderID
	}

	if _, err := store.CreateNotification(ctx, c.db, n); err != nil {
		if errors.Is(err, database.ErrUserNotFound) || errors.Is(err, database.ErrOrderNotFound) {
			return backoff.Permanent(err)
		}
		return fmt.Errorf("store in-app notification: %w", err)
	}
	return nil
}
