package api

import (
	"net/http"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/workflow"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req workflow.PlaceOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.service.PlaceOrder(r.Context(), principal(r), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.service.ListOrders(r.Context(), principal(r), workflow.ListOrdersRequest{
		Cursor: q.Get("cursor"),
		Limit:  queryInt(r, "limit"),
		Status: q.Get("status"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), principal(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, order)
}

func (h *Handler) approveOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.service.ApproveOrder(r.Context(), principal(r), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func (h *Handler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.service.RejectOrder(r.Context(), principal(r), id, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, order)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	page, err := h.service.ListNotifications(r.Context(), principal(r), unreadOnly, queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}
