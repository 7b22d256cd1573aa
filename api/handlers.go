/*
handlers.go - HTTP API handlers for the outstanding-balance ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Retailer-facing:
    GET    /outstanding/{userId}          List a retailer's obligations
    GET    /outstanding/{userId}/summary  Rollup for one retailer
    GET    /outstanding/{id}/history      Payment history of an obligation
    POST   /outstanding/{userId}/pay      Record a payment

  Back-office:
    GET    /outstanding                   List all (filter: status, userId)
    GET    /outstanding/summary/all       Global rollup
    POST   /outstanding                   Create an obligation
    PUT    /outstanding/{id}              Partial field update
    DELETE /outstanding/{id}              Delete (refused once history exists)

  Operational:
    GET    /healthz                       Liveness probe

REQUEST FLOW:
  1. Decode and validate the request body (ozzo-validation)
  2. Call domain logic (Reconciler, Summarizer, Store)
  3. Serialize response
  4. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as {"error": "..."} with appropriate HTTP status:
  - 400: Validation errors, overpayment, blocked delete
  - 404: Missing or foreign-owned obligation
  - 500: Storage failures (logged, details not leaked)

SECURITY NOTE:
  Currently NO authentication or authorization. The userId path segment
  is trusted; put an auth layer in front before exposing publicly.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/pharmalink/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.TxStore
	Reconciler *ledger.Reconciler
	Summarizer *ledger.Summarizer
	Log        *logrus.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewHandler creates a new handler with the given store.
func NewHandler(store ledger.TxStore, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Store:      store,
		Reconciler: ledger.NewReconciler(store, log),
		Summarizer: ledger.NewSummarizer(store),
		Log:        log,
		Now:        time.Now,
	}
}

// =============================================================================
// RETAILER HANDLERS
// =============================================================================

// ListForUser returns the obligations of one retailer, optionally
// narrowed by a status query parameter.
// GET /outstanding/{userId}?status=pending
func (h *Handler) ListForUser(w http.ResponseWriter, r *http.Request) {
	f := ledger.ListFilter{
		UserID: chi.URLParam(r, "id"),
		Status: ledger.Status(r.URL.Query().Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be pending, partial or cleared")
		return
	}

	obs, err := h.Store.ListObligations(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTOs(obs, h.Now().UTC()))
}

// UserSummary returns the rollup for one retailer. A retailer with no
// obligations gets an all-zero summary, not an error.
// GET /outstanding/{userId}/summary
func (h *Handler) UserSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	sum, err := h.Summarizer.Summarize(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// History returns the payment history of one obligation, newest first.
// GET /outstanding/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.Store.Obligation(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	entries, err := h.Store.ListHistory(r.Context(), ledger.HistoryFilter{OutstandingID: id})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// Pay records a payment against one of the retailer's obligations.
// POST /outstanding/{userId}/pay
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req ApplyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var paymentDate time.Time
	if req.PaymentDate != "" {
		paymentDate, _ = time.Parse(dateLayout, req.PaymentDate)
	}

	ob, err := h.Reconciler.ApplyPayment(r.Context(), ledger.PaymentRequest{
		OutstandingID: req.OutstandingID,
		UserID:        userID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		TransactionID: req.TransactionID,
		Description:   req.Description,
		PaymentDate:   paymentDate,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(ob, h.Now().UTC()))
}

// =============================================================================
// BACK-OFFICE HANDLERS
// =============================================================================

// List returns obligations across all retailers, optionally filtered by
// status and/or userId query parameters.
// GET /outstanding?status=pending&userId=r-1
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f := ledger.ListFilter{
		UserID: r.URL.Query().Get("userId"),
		Status: ledger.Status(r.URL.Query().Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be pending, partial or cleared")
		return
	}

	obs, err := h.Store.ListObligations(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTOs(obs, h.Now().UTC()))
}

// GlobalSummary returns the rollup across all retailers.
// GET /outstanding/summary/all
func (h *Handler) GlobalSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Summarizer.Summarize(r.Context(), "")
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// Create inserts a new obligation.
// POST /outstanding
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateObligationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := ledger.NewObligationInput{
		UserID:        req.UserID,
		OrderID:       req.OrderID,
		InvoiceNumber: req.InvoiceNumber,
		Amount:        req.Amount,
		PendingAmount: req.PendingAmount,
		Notes:         req.Notes,
	}
	if req.DueDate != "" {
		d, _ := time.Parse(dateLayout, req.DueDate)
		in.DueDate = &d
	}

	ob, err := ledger.NewObligation(in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.Store.CreateObligation(r.Context(), ob); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"outstanding_id": ob.ID,
		"user_id":        ob.UserID,
		"amount":         ob.Amount.String(),
	}).Info("obligation created")

	writeJSON(w, http.StatusCreated, toObligationDTO(ob, h.Now().UTC()))
}

// Update applies a back-office partial update to an obligation.
// PUT /outstanding/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateObligationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := ledger.FieldPatch{
		Amount:        req.Amount,
		PendingAmount: req.PendingAmount,
		ClearedAmount: req.ClearedAmount,
		Notes:         req.Notes,
	}
	if req.Status != nil {
		st := ledger.Status(*req.Status)
		patch.Status = &st
	}
	if req.DueDate != nil {
		if *req.DueDate == "" {
			patch.ClearDueDate = true
		} else {
			d, _ := time.Parse(dateLayout, *req.DueDate)
			patch.DueDate = &d
		}
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	ob, err := h.Store.UpdateObligationFields(r.Context(), id, patch)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(ob, h.Now().UTC()))
}

// Delete removes an obligation. Refused once payment history exists:
// history is the audit trail.
// DELETE /outstanding/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Store.DeleteObligation(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Healthz is the liveness probe.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeDomainError maps ledger errors to HTTP status codes. Internal
// failures are logged with detail but reported generically.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "obligation not found")
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
