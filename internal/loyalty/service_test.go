package loyalty_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	loyaltyDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/loyalty"
	"github.com/frahmantamala/purchase-core/internal/core/storage"
	"github.com/frahmantamala/purchase-core/internal/core/testdb"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
	loyaltyPostgres "github.com/frahmantamala/purchase-core/internal/loyalty/postgres"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

func TestLoyalty(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Loyalty Suite")
}

const day = 24 * time.Hour

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		clk     *clock.Fake
		service *loyalty.Service
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = testdb.Open()
		Expect(err).NotTo(HaveOccurred())

		clk = clock.NewFake(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
		service = loyalty.NewService(loyaltyPostgres.NewLedgerRepository(db), loyalty.ServiceConfig{
			CreditExpiry: 90 * day,
			Policy:       storage.DefaultPolicy(),
		}, clk, logger.Discard())
	})

	AfterEach(func() {
		Expect(testdb.Close(db)).To(Succeed())
	})

	credit := func(user string, points int64) *loyalty.Result {
		res, err := service.Credit(ctx, loyalty.CreditRequest{UserID: user, Points: points, Reason: loyalty.ReasonBonus})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	countEntries := func(user string) int64 {
		var n int64
		Expect(db.Model(&loyaltyDatamodel.Transaction{}).Where("user_id = ?", user).Count(&n).Error).To(Succeed())
		return n
	}

	Describe("Credit", func() {
		It("creates the account on first credit", func() {
			res := credit("u1", 100)

			Expect(res.Balance).To(Equal(int64(100)))
			Expect(res.LifetimePoints).To(Equal(int64(100)))
			Expect(res.Tier).To(Equal(1))
			Expect(res.TransactionID).NotTo(BeEmpty())
		})

		It("applies a purchase credit once per payment", func() {
			req := loyalty.CreditRequest{UserID: "u1", Points: 59, Reason: loyalty.ReasonPurchase, PaymentID: "pay-1", ProductID: "game-1"}

			first, err := service.Credit(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			second, err := service.Credit(ctx, req)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Duplicate).To(BeTrue())
			Expect(second.TransactionID).To(Equal(first.TransactionID))
			Expect(second.Balance).To(Equal(int64(59)))
			Expect(countEntries("u1")).To(Equal(int64(1)))
		})

		It("accepts a zero point purchase marker but not a zero point bonus", func() {
			_, err := service.Credit(ctx, loyalty.CreditRequest{UserID: "u1", Points: 0, Reason: loyalty.ReasonPurchase, PaymentID: "pay-0"})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Credit(ctx, loyalty.CreditRequest{UserID: "u1", Points: 0, Reason: loyalty.ReasonBonus})
			Expect(internal.HasCode(err, internal.ErrCodeValidationFailed)).To(BeTrue())
		})

		It("keeps the balance exact under concurrent credits", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := service.Credit(ctx, loyalty.CreditRequest{UserID: "u1", Points: 10})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			view, err := service.GetBalance(ctx, "u1", 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Balance).To(Equal(int64(200)))
			Expect(view.Transactions).To(HaveLen(20))
		})
	})

	Describe("Debit", func() {
		It("decrements the balance but not lifetime points", func() {
			credit("u1", 600)

			res, err := service.Debit(ctx, loyalty.DebitRequest{UserID: "u1", Points: 200})

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Balance).To(Equal(int64(400)))
			Expect(res.LifetimePoints).To(Equal(int64(600)))
			Expect(res.Tier).To(Equal(2))
		})

		It("fails with InsufficientBalance when the balance is too small", func() {
			credit("u1", 50)

			_, err := service.Debit(ctx, loyalty.DebitRequest{UserID: "u1", Points: 51})
			Expect(errors.Is(err, internal.ErrInsufficientBalance)).To(BeTrue())

			_, err = service.Debit(ctx, loyalty.DebitRequest{UserID: "nobody", Points: 1})
			Expect(errors.Is(err, internal.ErrInsufficientBalance)).To(BeTrue())
		})

		It("checks the balance after expiring stale credits and keeps that reconciliation", func() {
			credit("u1", 100)
			clk.Advance(91 * day)

			_, err := service.Debit(ctx, loyalty.DebitRequest{UserID: "u1", Points: 50})
			Expect(errors.Is(err, internal.ErrInsufficientBalance)).To(BeTrue())

			var expiration loyaltyDatamodel.Transaction
			Expect(db.Where("user_id = ? AND reason = ?", "u1", "EXPIRATION").First(&expiration).Error).To(Succeed())
			Expect(expiration.Points).To(Equal(int64(-100)))
		})
	})

	Describe("reconciliation", func() {
		It("expires a 90 day credit when read on day 91", func() {
			// Given 100 points credited today
			credit("u1", 100)

			// When the balance is read 91 days later
			clk.Advance(91 * day)
			view, err := service.GetBalance(ctx, "u1", 10)

			// Then the credit is gone and one EXPIRATION entry of -100 exists
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Balance).To(Equal(int64(0)))
			Expect(view.LifetimePoints).To(Equal(int64(100)))

			var expirations []*loyalty.Transaction
			for _, t := range view.Transactions {
				if t.Reason == loyalty.ReasonExpiration {
					expirations = append(expirations, t)
				}
			}
			Expect(expirations).To(HaveLen(1))
			Expect(expirations[0].Points).To(Equal(int64(-100)))
		})

		It("leaves credits alone before they expire", func() {
			credit("u1", 100)
			clk.Advance(89 * day)

			view, err := service.GetBalance(ctx, "u1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Balance).To(Equal(int64(100)))
		})

		It("is idempotent", func() {
			credit("u1", 100)
			credit("u1", 40)
			clk.Advance(91 * day)

			first, err := service.Reconcile(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			entries := countEntries("u1")

			second, err := service.Reconcile(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Balance).To(Equal(first.Balance))
			Expect(countEntries("u1")).To(Equal(entries))
		})

		It("never drives the balance below zero after a redemption", func() {
			credit("u1", 100)
			_, err := service.Debit(ctx, loyalty.DebitRequest{UserID: "u1", Points: 80})
			Expect(err).NotTo(HaveOccurred())

			clk.Advance(91 * day)
			res, err := service.Reconcile(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Balance).To(Equal(int64(0)))

			check, err := service.VerifyBalance(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(check.Consistent()).To(BeTrue())
		})

		It("keeps lifetime points monotonic across expirations", func() {
			credit("u1", 300)
			clk.Advance(30 * day)
			credit("u1", 300)
			clk.Advance(70 * day)

			view, err := service.GetBalance(ctx, "u1", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Balance).To(Equal(int64(300)))
			Expect(view.LifetimePoints).To(Equal(int64(600)))
			Expect(view.Tier).To(Equal(2))
		})
	})

	Describe("balance invariant", func() {
		It("matches active unexpired credits minus spending debits", func() {
			credit("u1", 100)
			clk.Advance(10 * day)
			credit("u1", 50)
			_, err := service.Debit(ctx, loyalty.DebitRequest{UserID: "u1", Points: 30})
			Expect(err).NotTo(HaveOccurred())
			clk.Advance(85 * day)

			view, err := service.GetBalance(ctx, "u1", 100)
			Expect(err).NotTo(HaveOccurred())

			var activeCredits, spent int64
			for _, t := range view.Transactions {
				switch {
				case t.Status == loyalty.StatusActive && t.ExpiresAt.After(clk.Now()):
					activeCredits += t.Points
				case t.Points < 0 && t.Reason != loyalty.ReasonExpiration:
					spent += -t.Points
				}
			}
			Expect(view.Balance).To(Equal(activeCredits - spent))

			check, err := service.VerifyBalance(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(check.Consistent()).To(BeTrue())
		})
	})

	Describe("GetBalance", func() {
		It("reports an empty tier 1 account for unknown users", func() {
			view, err := service.GetBalance(ctx, "ghost", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(view.Balance).To(BeZero())
			Expect(view.Tier).To(Equal(1))
			Expect(view.Transactions).To(BeEmpty())
		})
	})
})

var _ = Describe("TierForPoints", func() {
	DescribeTable("thresholds",
		func(points int64, tier int) {
			Expect(loyalty.TierForPoints(points)).To(Equal(tier))
		},
		Entry("zero", int64(0), 1),
		Entry("just below silver", int64(499), 1),
		Entry("silver", int64(500), 2),
		Entry("1999", int64(1999), 2),
		Entry("2000 exactly", int64(2000), 3),
		Entry("5000", int64(5000), 4),
		Entry("9999", int64(9999), 4),
		Entry("10000", int64(10000), 5),
	)

	It("is monotonic", func() {
		prev := loyalty.TierForPoints(0)
		for p := int64(0); p <= 12000; p += 50 {
			t := loyalty.TierForPoints(p)
			Expect(t).To(BeNumerically(">=", prev))
			prev = t
		}
	})
})
