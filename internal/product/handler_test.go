package product_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/purchase-core/internal/core/storage"
	"github.com/frahmantamala/purchase-core/internal/core/testdb"
	"github.com/frahmantamala/purchase-core/internal/product"
	productPostgres "github.com/frahmantamala/purchase-core/internal/product/postgres"
	"github.com/frahmantamala/purchase-core/internal/transport"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

var _ = Describe("Product Handler Integration", func() {
	var (
		db     *gorm.DB
		router *chi.Mux
	)

	BeforeEach(func() {
		var err error
		db, err = testdb.Open()
		Expect(err).NotTo(HaveOccurred())

		repo := productPostgres.NewProductRepository(db)
		service := product.NewService(repo, nil, 0, storage.DefaultPolicy(), logger.Discard())
		handler := product.NewHandler(transport.NewBaseHandler(logger.Discard()), service)

		ctx := context.Background()
		now := time.Now().UTC()
		Expect(service.Create(ctx, product.NewProduct("a", "Alpha", decimal.NewFromInt(10), "", now))).To(Succeed())
		sold := product.NewProduct("b", "Beta", decimal.NewFromInt(20), "", now)
		sold.Available = false
		sold.Sold = true
		Expect(service.Create(ctx, sold)).To(Succeed())

		router = chi.NewRouter()
		router.Get("/products", handler.ListProducts)
		router.Get("/products/{id}", handler.GetProduct)
	})

	AfterEach(func() {
		Expect(testdb.Close(db)).To(Succeed())
	})

	It("lists only products that are for sale", func() {
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp product.ProductsResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Products).To(HaveLen(1))
		Expect(resp.Products[0].ID).To(Equal("a"))
	})

	It("returns a single product", func() {
		req := httptest.NewRequest(http.MethodGet, "/products/b", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var resp product.ProductResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Sold).To(BeTrue())
		Expect(resp.Available).To(BeFalse())
	})

	It("returns 404 with the taxonomy code for unknown products", func() {
		req := httptest.NewRequest(http.MethodGet, "/products/zzz", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(rec.Body.String()).To(ContainSubstring("PRODUCT_NOT_FOUND"))
	})
})
