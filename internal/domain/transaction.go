package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a monitored transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFlagged   TransactionStatus = "flagged"
	TxFailed    TransactionStatus = "failed"
)

// AMLTransaction is a monitored payment. Transactions are never deleted,
// only moved between statuses.
type AMLTransaction struct {
	ID                  string            `json:"id"`
	SenderUserID        string            `json:"senderUserId"`
	SenderAmount        decimal.Decimal   `json:"senderAmount"`
	SenderCurrency      string            `json:"senderCurrency"`
	SenderCountryCode   string            `json:"senderCountryCode"`
	ReceiverCountryCode string            `json:"receiverCountryCode"`
	Method              string            `json:"method"`
	Status              TransactionStatus `json:"status"`
	RiskScore           float64           `json:"riskScore"`
	IsSuspect           bool              `json:"isSuspect"`
	Timestamp           time.Time         `json:"timestamp"`
	Version             int               `json:"version"`
}

// TransactionRequest is the API payload for recording a transaction.
type TransactionRequest struct {
	SenderUserID        string          `json:"senderUserId" validate:"required"`
	SenderAmount        decimal.Decimal `json:"senderAmount"`
	SenderCurrency      string          `json:"senderCurrency" validate:"required,len=3"`
	SenderCountryCode   string          `json:"senderCountryCode" validate:"omitempty,len=2"`
	ReceiverCountryCode string          `json:"receiverCountryCode" validate:"omitempty,len=2"`
	Method              string          `json:"method" validate:"required"`
	Status              string          `json:"status" validate:"omitempty,oneof=pending completed failed"`
}

// ToTransaction converts a request to a transaction record.
func (r *TransactionRequest) ToTransaction() *AMLTransaction {
	status := TransactionStatus(r.Status)
	if status == "" {
		status = TxCompleted
	}
	return &AMLTransaction{
		SenderUserID:        r.SenderUserID,
		SenderAmount:        r.SenderAmount,
		SenderCurrency:      r.SenderCurrency,
		SenderCountryCode:   r.SenderCountryCode,
		ReceiverCountryCode: r.ReceiverCountryCode,
		Method:              r.Method,
		Status:              status,
		Timestamp:           time.Now().UTC(),
	}
}
