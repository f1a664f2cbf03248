// Package workflow implements the order lifecycle: customers place orders
// against a pharmacist's inventory lot, the owning pharmacist approves or
// rejects them, and stock moves only on approval.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/notify"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/workflow"

// transitions is the order state machine. Approved and rejected are terminal.
var transitions = map[string][]string{
	models.OrderStatusPending:  {models.OrderStatusApproved, models.OrderStatusRejected},
	models.OrderStatusApproved: {},
	models.OrderStatusRejected: {},
}

func canTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ApproveResult struct {
	Order          *models.Order `json:"order"`
	RemainingStock int           `json:"remaining_stock"`
}

type Service struct {
	db       *sql.DB
	notifier notify.Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
	txOpts   database.TxOptions
}

func NewService(db *sql.DB, notifier notify.Notifier, logger *zap.Logger) *Service {
	logger = logger.With(zap.String("component", "workflow"))

	txOpts := database.SerializableTxOptions()
	txOpts.OnRetry = func(attempt int, err error) {
		logger.Warn("Retrying order transaction", zap.Int("attempt", attempt), zap.Error(err))
	}

	return &Service{
		db:       db,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		txOpts:   txOpts,
	}
}

// PlaceOrder records a pending order. Stock is checked but not reserved.
func (s *Service) PlaceOrder(ctx context.Context, p models.Principal, req PlaceOrderRequest) (order *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.PlaceOrder", trace.WithAttributes(
		attribute.Int64("user.id", p.ID),
		attribute.Int64("lot.id", req.LotID),
		attribute.Int("order.quantity", req.Quantity),
	))
	defer func() { endSpan(span, err) }()

	if p.Role != models.RoleCustomer {
		return nil, forbidden("only customers can place orders")
	}
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	err = database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		snap, err := store.GetLotSnapshot(ctx, tx, req.LotID)
		if err != nil {
			return err
		}
		if snap.Quantity < req.Quantity {
			return &database.StockError{LotID: snap.LotID, Requested: req.Quantity, Available: snap.Quantity}
		}

		order, err = store.CreateOrder(ctx, tx, store.NewOrder{
			CustomerID:      p.ID,
			LotID:           req.LotID,
			PrescriptionRef: req.PrescriptionRef,
			PharmacyRef:     req.PharmacyRef,
			Quantity:        req.Quantity,
			DeliveryName:    req.DeliveryName,
			DeliveryAddress: req.DeliveryAddress,
			DeliveryContact: req.DeliveryContact,
		})
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("lot_id", order.LotID),
		zap.Int("quantity", order.Quantity),
	)

	s.afterCommit(ctx, order, func(ctx context.Context) (notify.Message, error) {
		pharmacist, err := store.GetUser(ctx, s.db, order.PharmacistID)
		if err != nil {
			return notify.Message{}, err
		}
		customer, err := store.GetUser(ctx, s.db, order.CustomerID)
		if err != nil {
			return notify.Message{}, err
		}
		return orderPlacedMessage(order, pharmacist, customer), nil
	})

	return order, nil
}

// ApproveOrder decrements the lot and marks the order approved in one
// transaction. When stock is short the order stays pending.
func (s *Service) ApproveOrder(ctx context.Context, p models.Principal, orderID int64) (result *ApproveResult, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.ApproveOrder", trace.WithAttributes(
		attribute.Int64("user.id", p.ID),
		attribute.Int64("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	if err := requireActivePharmacist(p); err != nil {
		return nil, err
	}

	err = database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		order, err := s.lockDecidable(ctx, tx, p, orderID, models.OrderStatusApproved)
		if err != nil {
			return err
		}

		remaining, err := store.DecrementLot(ctx, tx, order.LotID, order.Quantity)
		if err != nil {
			return err
		}
		if err := store.MarkApproved(ctx, tx, order.ID, p.ID); err != nil {
			return err
		}

		approved, err := store.GetOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		result = &ApproveResult{Order: approved, RemainingStock: remaining}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	order := result.Order
	span.SetAttributes(attribute.Int64("lot.id", order.LotID), attribute.Int("lot.remaining", result.RemainingStock))
	s.logger.Info("Order approved",
		zap.Int64("order_id", order.ID),
		zap.Int64("lot_id", order.LotID),
		zap.Int("quantity", order.Quantity),
		zap.Int("remaining_stock", result.RemainingStock),
	)

	s.afterCommit(ctx, order, func(ctx context.Context) (notify.Message, error) {
		customer, err := store.GetUser(ctx, s.db, order.CustomerID)
		if err != nil {
			return notify.Message{}, err
		}
		pharmacist, err := store.GetUser(ctx, s.db, p.ID)
		if err != nil {
			return notify.Message{}, err
		}
		return orderApprovedMessage(order, customer, pharmacist), nil
	})

	return result, nil
}

// RejectOrder closes a pending order without touching stock.
func (s *Service) RejectOrder(ctx context.Context, p models.Principal, orderID int64, reason string) (order *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.RejectOrder", trace.WithAttributes(
		attribute.Int64("user.id", p.ID),
		attribute.Int64("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	if err := requireActivePharmacist(p); err != nil {
		return nil, err
	}
	reason, err = normalizeReason(reason)
	if err != nil {
		return nil, err
	}

	err = database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		locked, err := s.lockDecidable(ctx, tx, p, orderID, models.OrderStatusRejected)
		if err != nil {
			return err
		}
		if err := store.MarkRejected(ctx, tx, locked.ID, p.ID, reason); err != nil {
			return err
		}

		order, err = store.GetOrder(ctx, tx, locked.ID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Order rejected", zap.Int64("order_id", order.ID), zap.Int64("lot_id", order.LotID))

	s.afterCommit(ctx, order, func(ctx context.Context) (notify.Message, error) {
		customer, err := store.GetUser(ctx, s.db, order.CustomerID)
		if err != nil {
			return notify.Message{}, err
		}
		return orderRejectedMessage(order, customer), nil
	})

	return order, nil
}

// GetOrder is visible to the ordering customer, the lot's pharmacist and
// any regulator.
func (s *Service) GetOrder(ctx context.Context, p models.Principal, orderID int64) (order *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "workflow.GetOrder", trace.WithAttributes(
		attribute.Int64("user.id", p.ID),
		attribute.Int64("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	order, err = store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, translate(err)
	}

	switch {
	case p.Role == models.RoleRegulator:
	case p.Role == models.RoleCustomer && order.CustomerID == p.ID:
	case p.Role == models.RolePharmacist && order.PharmacistID == p.ID:
	default:
		return nil, forbidden("order %d is not visible to user %d", orderID, p.ID)
	}

	return order, nil
}

// ListOrders returns the caller's own orders for customers, orders on the
// caller's lots for pharmacists, and every order for regulators.
func (s *Service) ListOrders(ctx context.Context, p models.Principal, req ListOrdersRequest) (*store.CursorPage, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	filter := store.OrderFilter{Status: req.Status}
	switch p.Role {
	case models.RoleCustomer:
		filter.CustomerID = p.ID
	case models.RolePharmacist:
		filter.PharmacistID = p.ID
	case models.RoleRegulator:
	default:
		return nil, forbidden("unknown role %q", p.Role)
	}

	page, err := store.ListOrdersCursor(ctx, s.db, filter, req.Cursor, req.Limit)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			return nil, &ValidationError{Field: "cursor", Reason: "is invalid"}
		}
		return nil, err
	}
	return page, nil
}

func (s *Service) ListNotifications(ctx context.Context, p models.Principal, unreadOnly bool, page, pageSize int) (*store.OffsetPage, error) {
	result, err := store.ListNotifications(ctx, s.db, p.ID, unreadOnly, clampPage(page), clampPageSize(pageSize))
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

// lockDecidable locks the order and checks that p owns its lot and that the
// order may move to target.
func (s *Service) lockDecidable(ctx context.Context, tx *sql.Tx, p models.Principal, orderID int64, target string) (*models.Order, error) {
	order, err := store.LockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PharmacistID != p.ID {
		return nil, forbidden("order %d belongs to another pharmacist", orderID)
	}
	if !canTransition(order.Status, target) {
		return nil, invalidTransition(order.Status, target)
	}
	return order, nil
}

// afterCommit hands the message builder to the notifier, which runs it off
// the request path. Nothing here can fail the operation that already
// committed.
func (s *Service) afterCommit(ctx context.Context, order *models.Order, build notify.BuildFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Notifier panicked", zap.Int64("order_id", order.ID), zap.Any("panic", r))
		}
	}()

	s.notifier.Notify(ctx, func(ctx context.Context) (notify.Message, error) {
		msg, err := build(ctx)
		if err != nil {
			return notify.Message{}, fmt.Errorf("build notification for order %d: %w", order.ID, err)
		}
		return msg, nil
	})
}

func requireActivePharmacist(p models.Principal) error {
	if p.Role != models.RolePharmacist {
		return forbidden("only pharmacists can decide orders")
	}
	if p.ApprovalStatus != models.ApprovalStatusApproved {
		return forbidden("pharmacist account is %s", p.ApprovalStatus)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
