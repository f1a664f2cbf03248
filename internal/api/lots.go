package api

import (
	"net/http"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/workflow"
)

func (h *Handler) createLot(w http.ResponseWriter, r *http.Request) {
	var req workflow.CreateLotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lot, err := h.service.CreateLot(r.Context(), principal(r), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, lot)
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListLots(r.Context(), principal(r), queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (h *Handler) updateLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req workflow.UpdateLotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lot, err := h.service.UpdateLot(r.Context(), principal(r), id, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, lot)
}

func (h *Handler) setLotQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Quantity *int `json:"quantity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		badRequest(w, "quantity is required")
		return
	}

	lot, err := h.service.SetLotQuantity(r.Context(), principal(r), id, *req.Quantity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, lot)
}

func (h *Handler) deleteLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteLot(r.Context(), principal(r), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
