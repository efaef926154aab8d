package logger_test

import (
	"context"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/purchase-core/pkg/logger"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logger Suite")
}

var _ = Describe("logger", func() {
	It("lazily initialises a default logger", func() {
		Expect(logger.LoggerWrapper()).NotTo(BeNil())
	})

	It("carries request scoped loggers through the context", func() {
		ctx := logger.With(context.Background(), "request_id", "abc")
		Expect(logger.From(ctx)).NotTo(BeIdenticalTo(logger.LoggerWrapper()))
	})

	It("falls back to the default logger", func() {
		Expect(logger.From(context.Background())).To(BeIdenticalTo(logger.LoggerWrapper()))
	})

	It("prefers the request scoped logger over the fallback", func() {
		fallback := logger.Discard()
		Expect(logger.FromOr(context.Background(), fallback)).To(BeIdenticalTo(fallback))

		ctx := logger.With(context.Background(), "request_id", "abc")
		Expect(logger.FromOr(ctx, fallback)).NotTo(BeIdenticalTo(fallback))
	})

	It("honours the configured level", func() {
		logger.Configure("error", "json")
		Expect(logger.LoggerWrapper().Enabled(context.Background(), slog.LevelInfo)).To(BeFalse())
		Expect(logger.LoggerWrapper().Enabled(context.Background(), slog.LevelError)).To(BeTrue())
	})
})
