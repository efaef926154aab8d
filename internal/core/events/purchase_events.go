package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePurchaseStarted  = "purchase.started"
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentRejected  = "payment.rejected"
	EventTypePaymentExpired   = "payment.expired"
	EventTypeLoyaltyCredited  = "loyalty.credited"
	EventTypeCustomerBlocked  = "customer.blocked"
)

func newBase(eventType string, at time.Time, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}
}

// PaymentEvent covers every payment lifecycle notification. Reason and ActorID
// are empty where they do not apply.
type PaymentEvent struct {
	BaseEvent
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Amount    string `json:"amount"`
	ActorID   string `json:"actor_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func newPaymentEvent(eventType, paymentID, userID, productID, amount, actorID, reason string, at time.Time) *PaymentEvent {
	return &PaymentEvent{
		BaseEvent: newBase(eventType, at, map[string]interface{}{
			"payment_id": paymentID,
			"user_id":    userID,
			"product_id": productID,
			"amount":     amount,
			"actor_id":   actorID,
			"reason":     reason,
		}),
		PaymentID: paymentID,
		UserID:    userID,
		ProductID: productID,
		Amount:    amount,
		ActorID:   actorID,
		Reason:    reason,
	}
}

func NewPurchaseStartedEvent(paymentID, userID, productID, amount string, at time.Time) *PaymentEvent {
	return newPaymentEvent(EventTypePurchaseStarted, paymentID, userID, productID, amount, userID, "", at)
}

func NewPaymentCompletedEvent(paymentID, userID, productID, amount, approverID string, at time.Time) *PaymentEvent {
	return newPaymentEvent(EventTypePaymentCompleted, paymentID, userID, productID, amount, approverID, "", at)
}

func NewPaymentRejectedEvent(paymentID, userID, productID, amount, rejecterID, reason string, at time.Time) *PaymentEvent {
	return newPaymentEvent(EventTypePaymentRejected, paymentID, userID, productID, amount, rejecterID, reason, at)
}

func NewPaymentExpiredEvent(paymentID, userID, productID, amount string, at time.Time) *PaymentEvent {
	return newPaymentEvent(EventTypePaymentExpired, paymentID, userID, productID, amount, "", "expired", at)
}

type LoyaltyCreditedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	PaymentID string `json:"payment_id"`
	Points    int64  `json:"points"`
	Balance   int64  `json:"balance"`
	Tier      int    `json:"tier"`
}

func NewLoyaltyCreditedEvent(userID, paymentID string, points, balance int64, tier int, at time.Time) *LoyaltyCreditedEvent {
	return &LoyaltyCreditedEvent{
		BaseEvent: newBase(EventTypeLoyaltyCredited, at, map[string]interface{}{
			"user_id":    userID,
			"payment_id": paymentID,
			"points":     points,
			"balance":    balance,
			"tier":       tier,
		}),
		UserID:    userID,
		PaymentID: paymentID,
		Points:    points,
		Balance:   balance,
		Tier:      tier,
	}
}

type CustomerBlockedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func NewCustomerBlockedEvent(userID, reason string, at time.Time) *CustomerBlockedEvent {
	return &CustomerBlockedEvent{
		BaseEvent: newBase(EventTypeCustomerBlocked, at, map[string]interface{}{
			"user_id": userID,
			"reason":  reason,
		}),
		UserID: userID,
		Reason: reason,
	}
}

// StringField reads a string attribute from an event payload.
func StringField(event Event, key string) string {
	data, ok := event.Payload().(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := data[key].(string)
	return v
}
