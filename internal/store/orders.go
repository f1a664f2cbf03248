package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/google/uuid"
)

type NewOrder struct {
	CustomerID      int64
	LotID           int64
	PrescriptionRef *string
	PharmacyRef     *string
	Quantity        int
	DeliveryName    string
	DeliveryAddress string
	DeliveryContact string
}

// OrderFilter narrows ListOrdersCursor; zero values mean "any".
type OrderFilter struct {
	CustomerID   int64
	PharmacistID int64
	Status       string
}

const orderSelect = `
	SELECT o.id, o.order_number, o.customer_id, o.lot_id, o.prescription_ref, o.pharmacy_ref,
	       o.quantity, o.delivery_name, o.delivery_address, o.delivery_contact, o.status,
	       o.placed_at, o.approved_at, o.rejected_at, o.decided_by, o.rejection_reason,
	       o.updated_at, o.version,
	       l.medicine_name, l.pharmacist_id, l.unit_price
	FROM orders o
	JOIN inventory_lots l ON l.id = o.lot_id`

func generateOrderNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ORD-" + id[:12]
}

// CreateOrder inserts a pending order. It never touches lot stock.
func CreateOrder(ctx context.Context, tx *sql.Tx, o NewOrder) (*models.Order, error) {
	if o.Quantity < 1 {
		return nil, database.ErrInvalidQuantity
	}

	var orderID int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, customer_id, lot_id, prescription_ref, pharmacy_ref, quantity,
		                     delivery_name, delivery_address, delivery_contact, status, placed_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
		 RETURNING id`,
		generateOrderNumber(), o.CustomerID, o.LotID, o.PrescriptionRef, o.PharmacyRef, o.Quantity,
		o.DeliveryName, o.DeliveryAddress, o.DeliveryContact, models.OrderStatusPending).Scan(&orderID)
	if err != nil {
		if database.IsForeignKeyViolation(err, "orders_lot_id_fkey") {
			return nil, database.ErrLotNotFound
		}
		if database.IsForeignKeyViolation(err, "orders_customer_id_fkey") {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	order, err := GetOrder(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch created order: %w", err)
	}

	return order, nil
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, orderSelect+` WHERE o.id = $1`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return order, nil
}

// LockOrder reads the order with its lot and locks the order row, so
// concurrent decisions on the same order queue behind each other.
func LockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx, orderSelect+` WHERE o.id = $1 FOR UPDATE OF o`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return order, nil
}

// MarkApproved moves a pending order on one of approverID's lots to approved.
func MarkApproved(ctx context.Context, tx *sql.Tx, id, approverID int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders o
		 SET status = $1, approved_at = NOW(), decided_by = $2,
		     updated_at = NOW(), version = o.version + 1
		 FROM inventory_lots l
		 WHERE o.id = $3
		   AND l.id = o.lot_id
		   AND l.pharmacist_id = $2
		   AND o.status = $4`,
		models.OrderStatusApproved, approverID, id, models.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("approve order: %w", err)
	}

	return expectOneTransition(result)
}

// MarkRejected moves a pending order on one of rejectorID's lots to rejected.
func MarkRejected(ctx context.Context, tx *sql.Tx, id, rejectorID int64, reason string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders o
		 SET status = $1, rejected_at = NOW(), decided_by = $2, rejection_reason = $3,
		     updated_at = NOW(), version = o.version + 1
		 FROM inventory_lots l
		 WHERE o.id = $4
		   AND l.id = o.lot_id
		   AND l.pharmacist_id = $2
		   AND o.status = $5`,
		models.OrderStatusRejected, rejectorID, reason, id, models.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("reject order: %w", err)
	}

	return expectOneTransition(result)
}

func expectOneTransition(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotPending
	}
	return nil
}

func ListOrdersCursor(ctx context.Context, q database.Querier, f OrderFilter, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := orderSelect + `
		WHERE ($1::bigint = 0 OR o.customer_id = $1)
		  AND ($2::bigint = 0 OR l.pharmacist_id = $2)
		  AND ($3::text = '' OR o.status = $3)
		  AND (o.placed_at, o.id) < ($4, $5)
		ORDER BY o.placed_at DESC, o.id DESC
		LIMIT $6`

	rows, err := q.QueryContext(ctx, query,
		f.CustomerID, f.PharmacistID, f.Status, cursorData.PlacedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			PlacedAt: last.PlacedAt,
			ID:       last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		prescriptionRef sql.NullString
		pharmacyRef     sql.NullString
		approvedAt      sql.NullTime
		rejectedAt      sql.NullTime
		decidedBy       sql.NullInt64
		rejectionReason sql.NullString
	)

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerID,
		&order.LotID,
		&prescriptionRef,
		&pharmacyRef,
		&order.Quantity,
		&order.DeliveryName,
		&order.DeliveryAddress,
		&order.DeliveryContact,
		&order.Status,
		&order.PlacedAt,
		&approvedAt,
		&rejectedAt,
		&decidedBy,
		&rejectionReason,
		&order.UpdatedAt,
		&order.Version,
		&order.MedicineName,
		&order.PharmacistID,
		&order.UnitPrice,
	)
	if err != nil {
		return nil, err
	}

	if prescriptionRef.Valid {
		order.PrescriptionRef = &prescriptionRef.String
	}
	if pharmacyRef.Valid {
		order.PharmacyRef = &pharmacyRef.String
	}
	if approvedAt.Valid {
		order.ApprovedAt = &approvedAt.Time
	}
	if rejectedAt.Valid {
		order.RejectedAt = &rejectedAt.Time
	}
	if decidedBy.Valid {
		order.DecidedBy = &decidedBy.Int64
	}
	if rejectionReason.Valid {
		order.RejectionReason = &rejectionReason.String
	}

	order.ComputeTotal()
	return order, nil
}
