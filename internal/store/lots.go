package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/shopspring/decimal"
)

const lotColumns = `id, pharmacist_id, medicine_name, dosage_form, strength, unit_price, quantity, created_at, updated_at, version`

type NewLot struct {
	PharmacistID int64
	MedicineName string
	DosageForm   string
	Strength     string
	UnitPrice    decimal.Decimal
	Quantity     int
}

type LotDetails struct {
	MedicineName string
	DosageForm   string
	Strength     string
	UnitPrice    decimal.Decimal
}

func CreateLot(ctx context.Context, q database.Querier, l NewLot) (*models.InventoryLot, error) {
	if l.Quantity < 0 {
		return nil, database.ErrInvalidQuantity
	}

	query := `
		INSERT INTO inventory_lots (pharmacist_id, medicine_name, dosage_form, strength, unit_price, quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING ` + lotColumns

	lot, err := scanLot(q.QueryRowContext(ctx, query,
		l.PharmacistID, l.MedicineName, l.DosageForm, l.Strength, l.UnitPrice, l.Quantity))
	if err != nil {
		if database.IsForeignKeyViolation(err, "") {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create lot: %w", err)
	}

	return lot, nil
}

func GetLot(ctx context.Context, q database.Querier, id int64) (*models.InventoryLot, error) {
	lot, err := scanLot(q.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE id = $1`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrLotNotFound
		}
		return nil, fmt.Errorf("get lot: %w", err)
	}
	return lot, nil
}

// LockLot reads the lot and holds its row lock until the transaction ends.
func LockLot(ctx context.Context, tx *sql.Tx, id int64) (*models.InventoryLot, error) {
	lot, err := scanLot(tx.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrLotNotFound
		}
		return nil, fmt.Errorf("lock lot: %w", err)
	}
	return lot, nil
}

// GetLotSnapshot returns the fields the order workflow checks against. When q
// is a transaction the snapshot belongs to that transaction's view.
func GetLotSnapshot(ctx context.Context, q database.Querier, id int64) (*models.LotSnapshot, error) {
	snap := &models.LotSnapshot{}

	err := q.QueryRowContext(ctx,
		`SELECT id, quantity, unit_price, medicine_name, pharmacist_id
		 FROM inventory_lots
		 WHERE id = $1`,
		id).Scan(&snap.LotID, &snap.Quantity, &snap.UnitPrice, &snap.MedicineName, &snap.OwnerID)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrLotNotFound
		}
		return nil, fmt.Errorf("get lot snapshot: %w", err)
	}

	return snap, nil
}

// DecrementLot subtracts amount in a single conditional statement so the
// check and the write see the same row version. It returns the remaining
// quantity, or a *database.StockError when fewer than amount units remain.
func DecrementLot(ctx context.Context, tx *sql.Tx, lotID int64, amount int) (int, error) {
	if amount < 1 {
		return 0, database.ErrInvalidQuantity
	}

	var remaining int
	err := tx.QueryRowContext(ctx,
		`UPDATE inventory_lots
		 SET quantity = quantity - $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND quantity >= $1
		 RETURNING quantity`,
		amount, lotID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !database.IsNoRows(err) {
		return 0, fmt.Errorf("decrement lot: %w", err)
	}

	var available int
	err = tx.QueryRowContext(ctx, `SELECT quantity FROM inventory_lots WHERE id = $1`, lotID).Scan(&available)
	if err != nil {
		if database.IsNoRows(err) {
			return 0, database.ErrLotNotFound
		}
		return 0, fmt.Errorf("read lot quantity: %w", err)
	}

	return 0, &database.StockError{LotID: lotID, Requested: amount, Available: available}
}

// SetLotQuantity is the direct pharmacist edit of a lot's stock level.
func SetLotQuantity(ctx context.Context, tx *sql.Tx, lotID int64, quantity int) (*models.InventoryLot, error) {
	if quantity < 0 {
		return nil, database.ErrInvalidQuantity
	}

	lot, err := scanLot(tx.QueryRowContext(ctx,
		`UPDATE inventory_lots
		 SET quantity = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2
		 RETURNING `+lotColumns,
		quantity, lotID))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrLotNotFound
		}
		return nil, fmt.Errorf("set lot quantity: %w", err)
	}

	return lot, nil
}

func UpdateLotDetails(ctx context.Context, tx *sql.Tx, lotID int64, d LotDetails) (*models.InventoryLot, error) {
	lot, err := scanLot(tx.QueryRowContext(ctx,
		`UPDATE inventory_lots
		 SET medicine_name = $1, dosage_form = $2, strength = $3, unit_price = $4,
		     updated_at = NOW(), version = version + 1
		 WHERE id = $5
		 RETURNING `+lotColumns,
		d.MedicineName, d.DosageForm, d.Strength, d.UnitPrice, lotID))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrLotNotFound
		}
		return nil, fmt.Errorf("update lot: %w", err)
	}

	return lot, nil
}

// DeleteLot refuses to remove a lot that any order still references.
func DeleteLot(ctx context.Context, tx *sql.Tx, lotID int64) error {
	var referenced bool
	err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE lot_id = $1)",
		lotID).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check lot references: %w", err)
	}
	if referenced {
		return database.ErrLotInUse
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM inventory_lots WHERE id = $1`, lotID)
	if err != nil {
		if database.IsForeignKeyViolation(err, "") {
			return database.ErrLotInUse
		}
		return fmt.Errorf("delete lot: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrLotNotFound
	}

	return nil
}

// ListLots pages through lots newest first; ownerID 0 lists every lot.
func ListLots(ctx context.Context, q database.Querier, ownerID int64, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory_lots WHERE ($1::bigint = 0 OR pharmacist_id = $1)`,
		ownerID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count lots: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + lotColumns + `
		FROM inventory_lots
		WHERE ($1::bigint = 0 OR pharmacist_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, ownerID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	lots := []models.InventoryLot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, *lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(lots, total, page, pageSize), nil
}

func scanLot(row rowScanner) (*models.InventoryLot, error) {
	lot := &models.InventoryLot{}
	err := row.Scan(
		&lot.ID,
		&lot.PharmacistID,
		&lot.MedicineName,
		&lot.DosageForm,
		&lot.Strength,
		&lot.UnitPrice,
		&lot.Quantity,
		&lot.CreatedAt,
		&lot.UpdatedAt,
		&lot.Version,
	)
	if err != nil {
		return nil, err
	}
	return lot, nil
}
