package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/purchase-core/internal/core/clock"
	productDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/product"
	"github.com/frahmantamala/purchase-core/internal/core/storage"
	"github.com/frahmantamala/purchase-core/internal/core/testdb"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
	loyaltyPostgres "github.com/frahmantamala/purchase-core/internal/loyalty/postgres"
	"github.com/frahmantamala/purchase-core/internal/payment"
	paymentPostgres "github.com/frahmantamala/purchase-core/internal/payment/postgres"
	"github.com/frahmantamala/purchase-core/internal/purchase"
	"github.com/frahmantamala/purchase-core/internal/worker"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker Suite")
}

var _ = Describe("Pool", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("runs every submitted job across the workers", func() {
		var mu sync.Mutex
		seen := map[string]bool{}
		pool := worker.NewPool(worker.Config{MaxWorkers: 3, JobQueueSize: 5}, func(_ context.Context, job worker.Job) error {
			mu.Lock()
			defer mu.Unlock()
			seen[job.PaymentID] = true
			return nil
		}, logger.Discard())
		pool.Start(ctx)

		for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
			Expect(pool.Submit(ctx, worker.Job{Kind: worker.JobExpirePayment, PaymentID: id})).To(Succeed())
		}
		Expect(pool.Drain(ctx)).To(Succeed())

		Expect(seen).To(HaveLen(8))
		Expect(pool.Stats()).To(Equal(worker.Stats{Processed: 8}))
	})

	It("counts failures", func() {
		pool := worker.NewPool(worker.Config{MaxWorkers: 2}, func(_ context.Context, job worker.Job) error {
			if job.PaymentID == "bad" {
				return errors.New("boom")
			}
			return nil
		}, logger.Discard())
		pool.Start(ctx)

		Expect(pool.Submit(ctx, worker.Job{PaymentID: "ok"})).To(Succeed())
		Expect(pool.Submit(ctx, worker.Job{PaymentID: "bad"})).To(Succeed())
		Expect(pool.Drain(ctx)).To(Succeed())

		Expect(pool.Stats()).To(Equal(worker.Stats{Processed: 1, Failed: 1}))
	})

	It("stops on cancellation and refuses new work", func() {
		var running atomic.Int32
		pool := worker.NewPool(worker.Config{MaxWorkers: 2}, func(ctx context.Context, _ worker.Job) error {
			running.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}, logger.Discard())
		pool.Start(ctx)

		Expect(pool.Submit(ctx, worker.Job{PaymentID: "slow"})).To(Succeed())
		Eventually(running.Load).Should(Equal(int32(1)))

		cancel()
		pool.Wait()

		err := pool.Submit(context.Background(), worker.Job{PaymentID: "late"})
		Expect(errors.Is(err, worker.ErrPoolStopped)).To(BeTrue())
	})

	It("rejects unknown job kinds", func() {
		handle := worker.NewJobHandler(nil, logger.Discard())
		Expect(handle(ctx, worker.Job{Kind: "mystery"})).To(HaveOccurred())
	})
})

var _ = Describe("Scheduler", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		db       *gorm.DB
		clk      *clock.Fake
		payments *payment.Service
		ledger   *loyalty.Service
		pool     *worker.Pool
		sched    *worker.Scheduler
	)

	seedProduct := func(id, price string) {
		now := clk.Now()
		Expect(db.Create(&productDatamodel.Product{
			ID:              id,
			Name:            "Product " + id,
			Price:           decimal.RequireFromString(price),
			Available:       true,
			DeliveryPayload: "KEY-" + id,
			CreatedAt:       now,
			UpdatedAt:       now,
		}).Error).To(Succeed())
	}

	open := func(user, productID, price string) *payment.Payment {
		p, err := payments.Create(ctx, payment.CreatePaymentRequest{
			BuyerID:     user,
			ProductID:   productID,
			ProductName: "Product " + productID,
			Amount:      decimal.RequireFromString(price),
		})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	BeforeEach(func() {
		var err error
		ctx, cancel = context.WithCancel(context.Background())
		db, err = testdb.Open()
		Expect(err).NotTo(HaveOccurred())

		clk = clock.NewFake(time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC))
		lg := logger.Discard()
		policy := storage.Policy{Timeout: 2 * time.Second, MaxRetries: 1, Delay: time.Millisecond}

		payments = payment.NewService(paymentPostgres.NewPaymentRepository(db), nil, payment.ServiceConfig{
			Timeout: 30 * time.Minute,
			Policy:  policy,
		}, clk, lg)
		ledger = loyalty.NewService(loyaltyPostgres.NewLedgerRepository(db), loyalty.ServiceConfig{Policy: policy}, clk, lg)
		orchestrator := purchase.NewService(purchase.Dependencies{
			Payments: payments,
			Ledger:   ledger,
		}, purchase.DefaultConfig(), clk, lg)

		pool = worker.NewPool(worker.Config{MaxWorkers: 2}, worker.NewJobHandler(orchestrator, lg), lg)
		pool.Start(ctx)
		sched = worker.NewScheduler(payments, pool, time.Minute, 10, lg)

		seedProduct("p1", "10.00")
		seedProduct("p2", "42.50")
	})

	AfterEach(func() {
		cancel()
		pool.Wait()
		Expect(testdb.Close(db)).To(Succeed())
	})

	It("expires overdue payments and repairs missing credits", func() {
		// Given one payment left open and one completed without a ledger entry
		stale := open("u1", "p1", "10.00")
		sold := open("u2", "p2", "42.50")
		_, err := payments.Approve(ctx, sold.ID, "op-1")
		Expect(err).NotTo(HaveOccurred())
		clk.Advance(31 * time.Minute)

		// When the sweep runs
		queued, err := sched.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(queued).To(Equal(2))
		Expect(pool.Drain(ctx)).To(Succeed())

		// Then both are fixed
		expired, err := payments.Get(ctx, stale.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(expired.Status).To(Equal(payment.StatusExpired))

		view, err := ledger.GetBalance(ctx, "u2", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(view.Balance).To(Equal(int64(42)))

		// And a second sweep finds nothing
		queued, err = sched.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(queued).To(BeZero())
	})
})
