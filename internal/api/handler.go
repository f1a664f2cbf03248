// Package api exposes the order workflow over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/auth"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/store"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/workflow"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Service is the workflow surface the handlers call.
type Service interface {
	PlaceOrder(ctx context.Context, p models.Principal, req workflow.PlaceOrderRequest) (*models.Order, error)
	ApproveOrder(ctx context.Context, p models.Principal, orderID int64) (*workflow.ApproveResult, error)
	RejectOrder(ctx context.Context, p models.Principal, orderID int64, reason string) (*models.Order, error)
	GetOrder(ctx context.Context, p models.Principal, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context, p models.Principal, req workflow.ListOrdersRequest) (*store.CursorPage, error)

	CreateLot(ctx context.Context, p models.Principal, req workflow.CreateLotRequest) (*models.InventoryLot, error)
	UpdateLot(ctx context.Context, p models.Principal, lotID int64, req workflow.UpdateLotRequest) (*models.InventoryLot, error)
	SetLotQuantity(ctx context.Context, p models.Principal, lotID int64, quantity int) (*models.InventoryLot, error)
	DeleteLot(ctx context.Context, p models.Principal, lotID int64) error
	ListLots(ctx context.Context, p models.Principal, page, pageSize int) (*store.OffsetPage, error)

	ListNotifications(ctx context.Context, p models.Principal, unreadOnly bool, page, pageSize int) (*store.OffsetPage, error)
}

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger.With(zap.String("component", "api"))}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.With(auth.RequireRole(models.RoleCustomer)).Post("/", h.placeOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.With(auth.RequireRole(models.RolePharmacist)).Post("/{id}/approve", h.approveOrder)
		r.With(auth.RequireRole(models.RolePharmacist)).Post("/{id}/reject", h.rejectOrder)
	})

	r.Route("/lots", func(r chi.Router) {
		r.Get("/", h.listLots)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RolePharmacist))
			r.Post("/", h.createLot)
			r.Patch("/{id}", h.updateLot)
			r.Put("/{id}/quantity", h.setLotQuantity)
			r.Delete("/{id}", h.deleteLot)
		})
	})

	r.Get("/notifications", h.listNotifications)
}

// principal is set by auth.Verifier.Middleware on every /api/v1 route.
func principal(r *http.Request) models.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}
