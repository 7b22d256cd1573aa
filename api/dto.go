/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY IN JSON:
  Request amounts decode into decimal.Decimal so "100.005" is rejected
  rather than silently rounded. Response amounts are plain JSON numbers;
  every stored amount has at most two decimal places, so the float
  conversion is exact.

VALIDATION:
  Request types carry a Validate method (ozzo-validation). Handlers call
  it before touching domain logic; deeper business rules stay in the
  ledger package.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model
*/
package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/ledger-engine/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ObligationDTO represents an obligation in API responses.
type ObligationDTO struct {
	ID            string   `json:"id"`
	UserID        string   `json:"userId"`
	OrderID       string   `json:"orderId,omitempty"`
	InvoiceNumber string   `json:"invoiceNumber,omitempty"`
	Amount        float64  `json:"amount"`
	PendingAmount float64  `json:"pendingAmount"`
	ClearedAmount float64  `json:"clearedAmount"`
	DueDate       *string  `json:"dueDate,omitempty"`
	Status        string   `json:"status"`
	Overdue       bool     `json:"overdue"`
	Notes         string   `json:"notes,omitempty"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
}

// HistoryDTO represents one settlement event.
type HistoryDTO struct {
	ID            string  `json:"id"`
	OutstandingID string  `json:"outstandingId"`
	UserID        string  `json:"userId"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
	PaymentDate   string  `json:"paymentDate"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
}

// SummaryDTO represents the rollup of a retailer's obligations.
// Amounts are 0, never null, when nothing matches.
type SummaryDTO struct {
	TotalAmount  float64 `json:"totalAmount"`
	TotalPending float64 `json:"totalPending"`
	TotalCleared float64 `json:"totalCleared"`
	TotalCount   int     `json:"totalCount"`
	PendingCount int     `json:"pendingCount"`
	OverdueCount int     `json:"overdueCount"`
	ClearedCount int     `json:"clearedCount"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse acknowledges a write with no body to return.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateObligationRequest creates a new obligation. PendingAmount is
// optional and supports importing partially settled invoices.
type CreateObligationRequest struct {
	UserID        string           `json:"userId"`
	OrderID       string           `json:"orderId"`
	InvoiceNumber string           `json:"invoiceNumber"`
	Amount        decimal.Decimal  `json:"amount"`
	PendingAmount *decimal.Decimal `json:"pendingAmount"`
	DueDate       string           `json:"dueDate"`
	Notes         string           `json:"notes"`
}

func (r CreateObligationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Amount, validation.By(positiveMoney)),
		validation.Field(&r.DueDate, validation.Date(dateLayout)),
	)
}

// ApplyPaymentRequest records a payment against an obligation.
type ApplyPaymentRequest struct {
	OutstandingID string          `json:"outstandingId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	TransactionID string          `json:"transactionId"`
	Description   string          `json:"description"`
	PaymentDate   string          `json:"paymentDate"`
}

func (r ApplyPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OutstandingID, validation.Required),
		validation.Field(&r.Amount, validation.By(positiveMoney)),
		validation.Field(&r.PaymentDate, validation.Date(dateLayout)),
	)
}

// UpdateObligationRequest is a back-office partial update. Nil fields
// are untouched; an empty dueDate string clears the due date.
type UpdateObligationRequest struct {
	Amount        *decimal.Decimal `json:"amount"`
	PendingAmount *decimal.Decimal `json:"pendingAmount"`
	ClearedAmount *decimal.Decimal `json:"clearedAmount"`
	DueDate       *string          `json:"dueDate"`
	Status        *string          `json:"status"`
	Notes         *string          `json:"notes"`
}

func (r UpdateObligationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.In("pending", "partial", "cleared")),
		validation.Field(&r.DueDate, validation.Date(dateLayout)),
	)
}

// positiveMoney accepts decimals greater than zero with at most two
// fractional digits.
func positiveMoney(value any) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return validation.NewError("validation_money", "must be a number")
	}
	if !d.IsPositive() {
		return validation.NewError("validation_money", "invalid amount")
	}
	if !ledger.ValidMoney(d) {
		return validation.NewError("validation_money", "at most two decimal places")
	}
	return nil
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toObligationDTO(ob *ledger.Obligation, now time.Time) ObligationDTO {
	amount, _ := ob.Amount.Float64()
	pending, _ := ob.PendingAmount.Float64()
	cleared, _ := ob.ClearedAmount.Float64()

	dto := ObligationDTO{
		ID:            ob.ID,
		UserID:        ob.UserID,
		OrderID:       ob.OrderID,
		InvoiceNumber: ob.InvoiceNumber,
		Amount:        amount,
		PendingAmount: pending,
		ClearedAmount: cleared,
		Status:        string(ob.Status),
		Overdue:       ob.Overdue(now),
		Notes:         ob.Notes,
		CreatedAt:     ob.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     ob.UpdatedAt.Format(time.RFC3339),
	}
	if ob.DueDate != nil {
		d := ob.DueDate.Format(dateLayout)
		dto.DueDate = &d
	}
	return dto
}

func toObligationDTOs(obs []ledger.Obligation, now time.Time) []ObligationDTO {
	dtos := make([]ObligationDTO, len(obs))
	for i := range obs {
		dtos[i] = toObligationDTO(&obs[i], now)
	}
	return dtos
}

func toHistoryDTO(h ledger.HistoryEntry) HistoryDTO {
	amount, _ := h.Amount.Float64()
	return HistoryDTO{
		ID:            h.ID,
		OutstandingID: h.OutstandingID,
		UserID:        h.UserID,
		Amount:        amount,
		PaymentMethod: h.PaymentMethod,
		TransactionID: h.TransactionID,
		PaymentDate:   h.PaymentDate.Format(dateLayout),
		Description:   h.Description,
		Status:        h.Status,
		CreatedAt:     h.CreatedAt.Format(time.RFC3339),
	}
}

func toHistoryDTOs(entries []ledger.HistoryEntry) []HistoryDTO {
	dtos := make([]HistoryDTO, len(entries))
	for i, h := range entries {
		dtos[i] = toHistoryDTO(h)
	}
	return dtos
}

func toSummaryDTO(s ledger.Summary) SummaryDTO {
	totalAmount, _ := s.TotalAmount.Float64()
	totalPending, _ := s.TotalPending.Float64()
	totalCleared, _ := s.TotalCleared.Float64()
	return SummaryDTO{
		TotalAmount:  totalAmount,
		TotalPending: totalPending,
		TotalCleared: totalCleared,
		TotalCount:   s.TotalCount,
		PendingCount: s.PendingCount,
		OverdueCount: s.OverdueCount,
		ClearedCount: s.ClearedCount,
	}
}
