package loyalty

import (
	"time"

	loyaltyDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/loyalty"
)

type Reason string

const (
	ReasonPurchase   Reason = "PURCHASE"
	ReasonRedeem     Reason = "REDEEM"
	ReasonBonus      Reason = "BONUS"
	ReasonExpiration Reason = "EXPIRATION"
	ReasonAdjustment Reason = "ADJUSTMENT"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusUsed    Status = "USED"
	StatusExpired Status = "EXPIRED"
)

const DefaultCreditExpiry = 90 * 24 * time.Hour

// TierForPoints maps lifetime points to a tier between 1 and 5.
func TierForPoints(lifetime int64) int {
	switch {
	case lifetime >= 10000:
		return 5
	case lifetime >= 5000:
		return 4
	case lifetime >= 2000:
		return 3
	case lifetime >= 500:
		return 2
	default:
		return 1
	}
}

type Transaction struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Points    int64                  `json:"points"`
	Reason    Reason                 `json:"reason"`
	Status    Status                 `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	PaymentID *string                `json:"payment_id,omitempty"`
	ProductID *string                `json:"product_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type CreditRequest struct {
	UserID    string
	Points    int64
	Reason    Reason
	PaymentID string
	ProductID string
	Metadata  map[string]interface{}
}

type DebitRequest struct {
	UserID   string
	Points   int64
	Reason   Reason
	Metadata map[string]interface{}
}

// Result is the account state after a ledger operation.
type Result struct {
	UserID         string `json:"user_id"`
	Balance        int64  `json:"balance"`
	LifetimePoints int64  `json:"lifetime_points"`
	Tier           int    `json:"tier"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

type BalanceView struct {
	UserID         string         `json:"user_id"`
	Balance        int64          `json:"balance"`
	LifetimePoints int64          `json:"lifetime_points"`
	Tier           int            `json:"tier"`
	Transactions   []*Transaction `json:"transactions"`
}

// BalanceCheck compares the stored balance with the sum of the ledger.
type BalanceCheck struct {
	UserID    string `json:"user_id"`
	Stored    int64  `json:"stored"`
	LedgerSum int64  `json:"ledger_sum"`
}

func (c BalanceCheck) Consistent() bool {
	return c.Stored == c.LedgerSum
}

func transactionFromDataModel(t *loyaltyDatamodel.Transaction) *Transaction {
	return &Transaction{
		ID:        t.ID,
		UserID:    t.UserID,
		Points:    t.Points,
		Reason:    Reason(t.Reason),
		Status:    Status(t.Status),
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
		PaymentID: t.PaymentID,
		ProductID: t.ProductID,
		Metadata:  map[string]interface{}(t.Metadata),
	}
}

func result(a *loyaltyDatamodel.Account, txID string) *Result {
	return &Result{
		UserID:         a.UserID,
		Balance:        a.Balance,
		LifetimePoints: a.LifetimePoints,
		Tier:           TierForPoints(a.LifetimePoints),
		TransactionID:  txID,
	}
}
