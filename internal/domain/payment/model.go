package payment

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

type Payment struct {
	ID                   int64      `gorm:"primaryKey" json:"id"`
	TripID               int64      `gorm:"not null;index" json:"tripId"`
	UserID               int64      `gorm:"not null;index" json:"userId"`
	Amount               int64      `gorm:"not null" json:"amount"`
	Currency             string     `gorm:"size:3;not null" json:"currency"`
	TxnRef               string     `gorm:"size:64;not null;uniqueIndex" json:"txnRef"`
	Status               Status     `gorm:"size:16;not null;index" json:"status"`
	PaymentURL           string     `gorm:"type:text" json:"paymentUrl,omitempty"`
	OrderInfo            string     `json:"orderInfo"`
	ExpiresAt            time.Time  `gorm:"not null" json:"expiresAt"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	GatewayTransactionNo string     `gorm:"size:64" json:"gatewayTransactionNo,omitempty"`
	BankCode             string     `gorm:"size:32" json:"bankCode,omitempty"`
	CardType             string     `gorm:"size:32" json:"cardType,omitempty"`
	ResponseCode         string     `gorm:"size:8" json:"responseCode,omitempty"`
	PayDate              string     `gorm:"size:16" json:"payDate,omitempty"`
	RawCallback          string     `gorm:"type:text" json:"-"`
	FailureReason        string     `json:"failureReason,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

func (Payment) TableName() string { return "payments" }

// Expired reports whether a pending payment is past its checkout window.
func (p *Payment) Expired(now time.Time) bool {
	return p.Status == StatusPending && now.After(p.ExpiresAt)
}

func (p *Payment) Terminal() bool {
	return p.Status != StatusPending
}

// gatewayMeta is what a callback tells us about the transaction.
type gatewayMeta struct {
	TransactionNo string
	BankCode      string
	CardType      string
	ResponseCode  string
	PayDate       string
	Raw           string
}

func (m gatewayMeta) fields() map[string]interface{} {
	return map[string]interface{}{
		"gateway_transaction_no": m.TransactionNo,
		"bank_code":              m.BankCode,
		"card_type":              m.CardType,
		"response_code":          m.ResponseCode,
		"pay_date":               m.PayDate,
		"raw_callback":           m.Raw,
	}
}
