package risk_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-core/internal/core/cache"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	"github.com/frahmantamala/purchase-core/internal/core/events"
	"github.com/frahmantamala/purchase-core/internal/risk"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

func TestRisk(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Risk Suite")
}

type mockDirectory struct {
	mu           sync.Mutex
	profiles     map[string]*risk.UserProfile
	history      map[string][]risk.Activity
	purchases    map[string][]risk.PurchaseRecord
	profileErr   error
	purchaseErr  error
	profileCalls int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		profiles:  make(map[string]*risk.UserProfile),
		history:   make(map[string][]risk.Activity),
		purchases: make(map[string][]risk.PurchaseRecord),
	}
}

func (m *mockDirectory) GetUserProfile(_ context.Context, userID string) (*risk.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileCalls++
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, risk.ErrUserNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockDirectory) GetUserHistory(_ context.Context, userID string, limit int) ([]risk.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[userID]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (m *mockDirectory) GetPurchaseHistory(_ context.Context, userID string) ([]risk.PurchaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.purchaseErr != nil {
		return nil, m.purchaseErr
	}
	return m.purchases[userID], nil
}

func (m *mockDirectory) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profileCalls
}

var _ = Describe("Engine", func() {
	var (
		ctx       context.Context
		now       time.Time
		clk       *clock.Fake
		directory *mockDirectory
		engine    *risk.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		clk = clock.NewFake(now)
		directory = newMockDirectory()
		engine = risk.NewEngine(directory, nil, risk.DefaultPolicy(), clk, logger.Discard())
	})

	establishedUser := func(id string) {
		directory.profiles[id] = &risk.UserProfile{
			UserID:    id,
			Email:     id + "@example.com",
			CreatedAt: now.Add(-365 * 24 * time.Hour),
		}
		directory.history[id] = []risk.Activity{
			{Action: risk.ActionPurchaseCompleted, Timestamp: now.Add(-48 * time.Hour), Data: map[string]interface{}{"ip_address": "10.0.0.1"}},
			{Action: risk.ActionPurchaseAttempt, Timestamp: now.Add(-48 * time.Hour), Data: map[string]interface{}{"ip_address": "10.0.0.1"}},
		}
	}

	Describe("AssessUser", func() {
		It("scores an established user as low risk with no factors", func() {
			establishedUser("u1")

			a := engine.AssessUser(ctx, "u1")

			Expect(a.Score).To(Equal(0))
			Expect(a.Tier).To(Equal(risk.TierLow))
			Expect(a.Factors).To(BeEmpty())
			Expect(a.Degraded).To(BeFalse())
		})

		It("applies account age bands", func() {
			// Given three accounts of different ages with otherwise clean history
			for id, age := range map[string]time.Duration{
				"day":   2 * time.Hour,
				"week":  3 * 24 * time.Hour,
				"month": 20 * 24 * time.Hour,
			} {
				establishedUser(id)
				directory.profiles[id].CreatedAt = now.Add(-age)
			}

			// Then each lands in its own band
			Expect(engine.AssessUser(ctx, "day").Factors).To(ConsistOf(risk.FactorVeryNewAccount))
			Expect(engine.AssessUser(ctx, "day").Score).To(Equal(30))
			Expect(engine.AssessUser(ctx, "week").Factors).To(ConsistOf(risk.FactorNewAccount))
			Expect(engine.AssessUser(ctx, "week").Score).To(Equal(20))
			Expect(engine.AssessUser(ctx, "month").Factors).To(ConsistOf(risk.FactorRecentAccount))
			Expect(engine.AssessUser(ctx, "month").Score).To(Equal(10))
		})

		It("flags suspicious email domains including subdomains", func() {
			establishedUser("u1")
			directory.profiles["u1"].Email = "someone@mx.Mailinator.com"

			a := engine.AssessUser(ctx, "u1")
			Expect(a.Factors).To(ConsistOf(risk.FactorSuspiciousEmailDomain))
			Expect(a.Score).To(Equal(25))
		})

		It("sets the score to the ceiling for blocked accounts", func() {
			establishedUser("u1")
			directory.profiles["u1"].IsBlocked = true

			a := engine.AssessUser(ctx, "u1")
			Expect(a.Score).To(Equal(100))
			Expect(a.Tier).To(Equal(risk.TierHigh))
			Expect(a.Factors).To(ContainElement(risk.FactorAccountBlocked))
		})

		It("caps the additive score at 100", func() {
			// Given a brand new account with every negative signal
			directory.profiles["u1"] = &risk.UserProfile{
				UserID:       "u1",
				Email:        "x@tempmail.com",
				CreatedAt:    now.Add(-10 * time.Minute),
				FraudReports: 2,
			}
			for i := 0; i < 6; i++ {
				directory.history["u1"] = append(directory.history["u1"], risk.Activity{
					Action:    risk.ActionPurchaseAttempt,
					Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
				})
			}

			// When
			a := engine.AssessUser(ctx, "u1")

			// Then
			Expect(a.Score).To(Equal(100))
			Expect(a.Tier).To(Equal(risk.TierHigh))
			Expect(a.Factors).To(ConsistOf(
				risk.FactorVeryNewAccount,
				risk.FactorSuspiciousEmailDomain,
				risk.FactorLowPurchaseConversion,
				risk.FactorFraudReported,
				risk.FactorRapidPurchaseAttempts,
			))
		})

		It("only counts attempts inside the rolling hour as rapid", func() {
			establishedUser("u1")
			directory.history["u1"] = []risk.Activity{
				{Action: risk.ActionPurchaseAttempt, Timestamp: now.Add(-10 * time.Minute)},
				{Action: risk.ActionPurchaseAttempt, Timestamp: now.Add(-20 * time.Minute)},
				{Action: risk.ActionPurchaseAttempt, Timestamp: now.Add(-2 * time.Hour)},
			}

			Expect(engine.AssessUser(ctx, "u1").Factors).NotTo(ContainElement(risk.FactorRapidPurchaseAttempts))
		})

		It("is deterministic for a fixed snapshot", func() {
			establishedUser("u1")
			directory.profiles["u1"].CreatedAt = now.Add(-3 * 24 * time.Hour)
			directory.profiles["u1"].FraudReports = 1

			first := engine.AssessUser(ctx, "u1")
			second := engine.AssessUser(ctx, "u1")
			Expect(second.Score).To(Equal(first.Score))
			Expect(second.Factors).To(Equal(first.Factors))
			Expect(first.Score).To(BeNumerically(">=", 0))
			Expect(first.Score).To(BeNumerically("<=", 100))
		})

		It("scores unknown users as new accounts without raising the fail-open alert", func() {
			var logs bytes.Buffer
			engine = risk.NewEngine(directory, nil, risk.DefaultPolicy(), clk, slog.New(slog.NewJSONHandler(&logs, nil)))

			a := engine.AssessUser(ctx, "ghost")

			Expect(a.Degraded).To(BeFalse())
			Expect(a.Factors).To(ConsistOf(risk.FactorVeryNewAccount, risk.FactorNoActivityHistory))
			Expect(a.Score).To(Equal(45))
			Expect(a.Tier).To(Equal(risk.TierLow))
			Expect(logs.String()).NotTo(ContainSubstring("fail_open"))

			decision := engine.AssessTransaction(ctx, risk.TransactionAttempt{
				UserID:    "ghost",
				ProductID: "game-1",
				Amount:    decimal.RequireFromString("10.00"),
			})
			Expect(decision.Approved).To(BeTrue())
			Expect(logs.String()).NotTo(ContainSubstring("fail_open"))
		})

		It("fails open when the directory errors", func() {
			directory.profileErr = errors.New("identity service down")

			a := engine.AssessUser(ctx, "u1")

			Expect(a.Tier).To(Equal(risk.TierLow))
			Expect(a.Score).To(Equal(0))
			Expect(a.Factors).To(BeEmpty())
			Expect(a.Degraded).To(BeTrue())
		})
	})

	Describe("caching", func() {
		var store *cache.MemoryStore

		BeforeEach(func() {
			store = cache.NewMemoryStore(clk)
			engine = risk.NewEngine(directory, store, risk.DefaultPolicy(), clk, logger.Discard())
			establishedUser("u1")
		})

		It("serves repeated assessments from the cache", func() {
			engine.AssessUser(ctx, "u1")
			engine.AssessUser(ctx, "u1")
			Expect(directory.calls()).To(Equal(1))
		})

		It("recomputes after the TTL elapses", func() {
			engine.AssessUser(ctx, "u1")
			clk.Advance(6 * time.Minute)
			engine.AssessUser(ctx, "u1")
			Expect(directory.calls()).To(Equal(2))
		})

		It("does not cache degraded assessments", func() {
			directory.profileErr = errors.New("boom")
			engine.AssessUser(ctx, "u1")
			directory.profileErr = nil

			a := engine.AssessUser(ctx, "u1")
			Expect(a.Degraded).To(BeFalse())
			Expect(directory.calls()).To(Equal(2))
		})

		It("is invalidated when the customer is blocked", func() {
			bus := events.NewEventBus(logger.Discard())
			engine.RegisterInvalidation(bus)

			Expect(engine.AssessUser(ctx, "u1").Tier).To(Equal(risk.TierLow))

			directory.profiles["u1"].IsBlocked = true
			Expect(bus.PublishSync(ctx, events.NewCustomerBlockedEvent("u1", "chargeback", now))).To(Succeed())

			Expect(engine.AssessUser(ctx, "u1").Tier).To(Equal(risk.TierHigh))
		})
	})

	Describe("AssessTransaction", func() {
		It("flags a new user buying far above their average", func() {
			// Given a user created under an hour ago with no activity history
			directory.profiles["u1"] = &risk.UserProfile{
				UserID:    "u1",
				Email:     "new@example.com",
				CreatedAt: now.Add(-30 * time.Minute),
			}
			directory.purchases["u1"] = []risk.PurchaseRecord{
				{ProductID: "old", Amount: decimal.NewFromInt(20), Method: "bank_transfer", Date: now.Add(-30 * 24 * time.Hour)},
			}

			// When attempting a 500 purchase
			decision := engine.AssessTransaction(ctx, risk.TransactionAttempt{
				UserID:        "u1",
				ProductID:     "p1",
				Amount:        decimal.NewFromInt(500),
				PaymentMethod: "bank_transfer",
			})

			// Then
			Expect(decision.Reasons).To(ContainElements(risk.FactorVeryNewAccount, risk.FactorAmountAboveAverage))
			Expect(decision.Score).To(BeNumerically(">=", 60))
			Expect(decision.Approved).To(BeTrue())
		})

		It("adds repeated product, method change and new ip factors", func() {
			establishedUser("u1")
			directory.purchases["u1"] = []risk.PurchaseRecord{
				{ProductID: "p1", Amount: decimal.NewFromInt(50), Method: "card", Date: now.Add(-2 * 24 * time.Hour)},
				{ProductID: "p2", Amount: decimal.NewFromInt(50), Method: "card", Date: now.Add(-20 * 24 * time.Hour)},
				{ProductID: "p3", Amount: decimal.NewFromInt(50), Method: "bank_transfer", Date: now.Add(-40 * 24 * time.Hour)},
			}

			decision := engine.AssessTransaction(ctx, risk.TransactionAttempt{
				UserID:        "u1",
				ProductID:     "p1",
				Amount:        decimal.NewFromInt(50),
				PaymentMethod: "bank_transfer",
				IPAddress:     "192.168.1.9",
			})

			Expect(decision.Reasons).To(ConsistOf(
				risk.FactorRepeatedProduct,
				risk.FactorPaymentMethodChange,
				risk.FactorNewIPAddress,
			))
			Expect(decision.Score).To(Equal(45))
			Expect(decision.Approved).To(BeTrue())
		})

		It("rejects outright when the base tier is high", func() {
			establishedUser("u1")
			directory.profiles["u1"].IsBlocked = true

			decision := engine.AssessTransaction(ctx, risk.TransactionAttempt{
				UserID:    "u1",
				ProductID: "p1",
				Amount:    decimal.NewFromInt(1),
			})
			Expect(decision.Approved).To(BeFalse())
			Expect(decision.Score).To(Equal(100))
		})

		It("rejects when the combined score reaches the high threshold", func() {
			// Given a low risk user (recent account 10 + fraud report 40 = 50)
			establishedUser("u1")
			directory.profiles["u1"].CreatedAt = now.Add(-20 * 24 * time.Hour)
			directory.profiles["u1"].FraudReports = 1
			directory.purchases["u1"] = []risk.PurchaseRecord{
				{ProductID: "p9", Amount: decimal.NewFromInt(10), Method: "card", Date: now.Add(-30 * 24 * time.Hour)},
			}

			// When the attempt adds two more factors
			decision := engine.AssessTransaction(ctx, risk.TransactionAttempt{
				UserID:        "u1",
				ProductID:     "p1",
				Amount:        decimal.NewFromInt(100),
				PaymentMethod: "bank_transfer",
			})

			// Then the tie at the threshold resolves to rejection
			Expect(decision.Assessment.Tier).To(Equal(risk.TierLow))
			Expect(decision.Score).To(Equal(80))
			Expect(decision.Approved).To(BeFalse())
		})

		It("falls back to the base score when purchase history is unavailable", func() {
			establishedUser("u1")
			directory.purchaseErr = errors.New("timeout")

			decision := engine.AssessTransaction(ctx, risk.TransactionAttempt{
				UserID:    "u1",
				ProductID: "p1",
				Amount:    decimal.NewFromInt(1000),
			})
			Expect(decision.Approved).To(BeTrue())
			Expect(decision.Score).To(Equal(0))
		})
	})

	Describe("Policy", func() {
		It("resolves boundaries to the stricter tier", func() {
			p := risk.DefaultPolicy()
			Expect(p.TierFor(80)).To(Equal(risk.TierHigh))
			Expect(p.TierFor(79)).To(Equal(risk.TierMedium))
			Expect(p.TierFor(60)).To(Equal(risk.TierMedium))
			Expect(p.TierFor(59)).To(Equal(risk.TierLow))
		})
	})
})
