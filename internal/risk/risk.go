package risk

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

const (
	FactorAccountBlocked        = "account_blocked"
	FactorVeryNewAccount        = "very_new_account"
	FactorNewAccount            = "new_account"
	FactorRecentAccount         = "recent_account"
	FactorSuspiciousEmailDomain = "suspicious_email_domain"
	FactorNoActivityHistory     = "no_activity_history"
	FactorLowPurchaseConversion = "low_purchase_conversion"
	FactorFraudReported         = "fraud_reported"
	FactorRapidPurchaseAttempts = "rapid_purchase_attempts"

	FactorAmountAboveAverage  = "amount_much_higher_than_average"
	FactorRepeatedProduct     = "repeated_product_purchase"
	FactorPaymentMethodChange = "payment_method_change"
	FactorNewIPAddress        = "new_ip_address"
)

// Activity actions the engine reads from customer history.
const (
	ActionPurchaseAttempt   = "purchase_attempt"
	ActionPurchaseCompleted = "purchase_completed"
)

const MaxScore = 100

// Assessment is a derived view of a user's fraud risk. It is cacheable and
// never authoritative for payment decisions.
type Assessment struct {
	UserID     string    `json:"user_id"`
	Tier       Tier      `json:"tier"`
	Score      int       `json:"score"`
	Factors    []string  `json:"factors"`
	AssessedAt time.Time `json:"assessed_at"`
	Degraded   bool      `json:"degraded,omitempty"`
}

type TransactionAttempt struct {
	UserID        string
	ProductID     string
	Amount        decimal.Decimal
	PaymentMethod string
	IPAddress     string
}

type TransactionDecision struct {
	Approved   bool        `json:"approved"`
	Score      int         `json:"score"`
	Reasons    []string    `json:"reasons"`
	Assessment *Assessment `json:"assessment"`
}

type UserProfile struct {
	UserID       string
	Email        string
	CreatedAt    time.Time
	IsBlocked    bool
	BlockReason  string
	FraudReports int
}

type Activity struct {
	Action    string
	Timestamp time.Time
	Data      map[string]interface{}
}

type PurchaseRecord struct {
	PaymentID string
	ProductID string
	Amount    decimal.Decimal
	Method    string
	Date      time.Time
}

// Directory is the identity and history collaborator the engine scores from.
type Directory interface {
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
	GetUserHistory(ctx context.Context, userID string, limit int) ([]Activity, error)
	GetPurchaseHistory(ctx context.Context, userID string) ([]PurchaseRecord, error)
}

type Policy struct {
	SuspiciousDomains []string
	HighThreshold     int
	MediumThreshold   int
	HistoryLimit      int
	CacheTTL          time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		SuspiciousDomains: []string{"tempmail.com", "10minutemail.com", "guerrillamail.com", "mailinator.com", "yopmail.com"},
		HighThreshold:     80,
		MediumThreshold:   60,
		HistoryLimit:      100,
		CacheTTL:          5 * time.Minute,
	}
}

func PolicyFromConfig(cfg internal.RiskConfig) Policy {
	p := DefaultPolicy()
	if len(cfg.SuspiciousDomains) > 0 {
		p.SuspiciousDomains = cfg.SuspiciousDomains
	}
	if cfg.HighThreshold > 0 {
		p.HighThreshold = cfg.HighThreshold
	}
	if cfg.MediumThreshold > 0 {
		p.MediumThreshold = cfg.MediumThreshold
	}
	if cfg.HistoryLimit > 0 {
		p.HistoryLimit = cfg.HistoryLimit
	}
	if cfg.CacheTTL > 0 {
		p.CacheTTL = cfg.CacheTTL
	}
	return p
}

// TierFor classifies a score. Boundaries resolve to the stricter tier.
func (p Policy) TierFor(score int) Tier {
	switch {
	case score >= p.HighThreshold:
		return TierHigh
	case score >= p.MediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

func capScore(score int) int {
	if score > MaxScore {
		return MaxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

// ErrUserNotFound is returned by directories for unknown users.
var ErrUserNotFound = errors.New("user not found")
