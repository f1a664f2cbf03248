package workflow

import (
	"context"
	"database/sql"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/store"
	"go.uber.org/zap"
)

func (s *Service) CreateLot(ctx context.Context, p models.Principal, req CreateLotRequest) (*models.InventoryLot, error) {
	if err := requireActivePharmacist(p); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	lot, err := store.CreateLot(ctx, s.db, store.NewLot{
		PharmacistID: p.ID,
		MedicineName: req.MedicineName,
		DosageForm:   req.DosageForm,
		Strength:     req.Strength,
		UnitPrice:    req.UnitPrice,
		Quantity:     req.Quantity,
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Lot created", zap.Int64("lot_id", lot.ID), zap.Int("quantity", lot.Quantity))
	return lot, nil
}

func (s *Service) UpdateLot(ctx context.Context, p models.Principal, lotID int64, req UpdateLotRequest) (*models.InventoryLot, error) {
	if err := requireActivePharmacist(p); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var lot *models.InventoryLot
	err := s.withOwnedLot(ctx, p, lotID, func(tx *sql.Tx) error {
		var err error
		lot, err = store.UpdateLotDetails(ctx, tx, lotID, store.LotDetails{
			MedicineName: req.MedicineName,
			DosageForm:   req.DosageForm,
			Strength:     req.Strength,
			UnitPrice:    req.UnitPrice,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// SetLotQuantity is the pharmacist's stock correction. It shares the
// serializable path with approvals, so a concurrent approval either sees the
// new level or is retried.
func (s *Service) SetLotQuantity(ctx context.Context, p models.Principal, lotID int64, quantity int) (*models.InventoryLot, error) {
	if err := requireActivePharmacist(p); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}

	var lot *models.InventoryLot
	err := s.withOwnedLot(ctx, p, lotID, func(tx *sql.Tx) error {
		var err error
		lot, err = store.SetLotQuantity(ctx, tx, lotID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lot quantity set", zap.Int64("lot_id", lotID), zap.Int("quantity", quantity))
	return lot, nil
}

// DeleteLot refuses while any order references the lot.
func (s *Service) DeleteLot(ctx context.Context, p models.Principal, lotID int64) error {
	if err := requireActivePharmacist(p); err != nil {
		return err
	}

	err := s.withOwnedLot(ctx, p, lotID, func(tx *sql.Tx) error {
		return store.DeleteLot(ctx, tx, lotID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Lot deleted", zap.Int64("lot_id", lotID))
	return nil
}

// ListLots shows pharmacists their own lots and everyone else the full
// catalogue.
func (s *Service) ListLots(ctx context.Context, p models.Principal, page, pageSize int) (*store.OffsetPage, error) {
	var ownerID int64
	if p.Role == models.RolePharmacist {
		ownerID = p.ID
	}

	result, err := store.ListLots(ctx, s.db, ownerID, clampPage(page), clampPageSize(pageSize))
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

func (s *Service) withOwnedLot(ctx context.Context, p models.Principal, lotID int64, fn func(tx *sql.Tx) error) error {
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		lot, err := store.LockLot(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if lot.PharmacistID != p.ID {
			return forbidden("lot %d belongs to another pharmacist", lotID)
		}
		return fn(tx)
	})
	return translate(err)
}
