package mercadopago

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses as reported by the provider. Only approved and
// authorized count as a successful charge.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusApproved   = "approved"
	PaymentStatusRejected   = "rejected"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusRefunded   = "refunded"
)

// Preapproval statuses as reported by the provider.
const (
	PreapprovalStatusPending    = "pending"
	PreapprovalStatusAuthorized = "authorized"
	PreapprovalStatusPaused     = "paused"
	PreapprovalStatusCancelled  = "cancelled"
)

// Payment is the subset of the provider payment resource the engine reads.
type Payment struct {
	ID                 int64               `json:"id"`
	Status             string              `json:"status"`
	StatusDetail       string              `json:"status_detail"`
	ExternalReference  string              `json:"external_reference"`
	CurrencyID         string              `json:"currency_id"`
	TransactionAmount  decimal.Decimal     `json:"transaction_amount"`
	DateCreated        time.Time           `json:"date_created"`
	DateApproved       *time.Time          `json:"date_approved"`
	Payer              Payer               `json:"payer"`
	Metadata           map[string]any      `json:"metadata"`
	PointOfInteraction *PointOfInteraction `json:"point_of_interaction,omitempty"`
}

// Approved reports whether the payment represents a successful charge.
func (p Payment) Approved() bool {
	return p.Status == PaymentStatusApproved || p.Status == PaymentStatusAuthorized
}

// PreapprovalID extracts the owning recurring agreement ID when the
// provider included it in the payment metadata. Empty when absent.
func (p Payment) PreapprovalID() string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata["preapproval_id"].(string); ok {
		return v
	}
	return ""
}

// Payer identifies who paid.
type Payer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// PointOfInteraction carries transaction context for some payment kinds.
type PointOfInteraction struct {
	Type string `json:"type"`
}

// Preapproval is the provider's recurring payment agreement.
type Preapproval struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference"`
	PayerID           int64         `json:"payer_id"`
	PayerEmail        string        `json:"payer_email"`
	DateCreated       time.Time     `json:"date_created"`
	NextPaymentDate   *time.Time    `json:"next_payment_date"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	Summarized        *Summarized   `json:"summarized,omitempty"`
}

// Authorized reports whether the agreement is active on the provider side.
func (p Preapproval) Authorized() bool {
	return p.Status == PreapprovalStatusAuthorized
}

// AutoRecurring describes the billing cadence of a preapproval.
type AutoRecurring struct {
	Frequency         int             `json:"frequency"`
	FrequencyType     string          `json:"frequency_type"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
}

// Summarized aggregates charge counters the provider keeps per preapproval.
type Summarized struct {
	Quotas          *int       `json:"quotas"`
	ChargedQuantity *int       `json:"charged_quantity"`
	LastChargedDate *time.Time `json:"last_charged_date"`
}

type preapprovalSearchResult struct {
	Paging  Paging        `json:"paging"`
	Results []Preapproval `json:"results"`
}

// Paging mirrors the provider's search envelope counters.
type Paging struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
