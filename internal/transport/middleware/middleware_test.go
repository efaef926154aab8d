package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	chiMiddleware "github.com/go-chi/chi/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/purchase-core/pkg/logger"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Middleware Suite")
}

const contract = `openapi: 3.0.3
info:
  title: test
  version: "1"
paths:
  /purchases:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [user_id, product_id]
              properties:
                user_id:
                  type: string
                  minLength: 1
                product_id:
                  type: string
                  minLength: 1
      responses:
        "201":
          description: created
`

var _ = Describe("RequestValidator", func() {
	var (
		handler  http.Handler
		received string
	)

	BeforeEach(func() {
		path := filepath.Join(GinkgoT().TempDir(), "openapi.yml")
		Expect(os.WriteFile(path, []byte(contract), 0o600)).To(Succeed())

		v, err := NewRequestValidator(context.Background(), path, "/api/v1", logger.Discard())
		Expect(err).NotTo(HaveOccurred())

		received = ""
		handler = v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			received = string(body)
			w.WriteHeader(http.StatusCreated)
		}))
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	It("passes valid requests with the body intact", func() {
		rec := post("/api/v1/purchases", `{"user_id":"u1","product_id":"p1"}`)

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(received).To(Equal(`{"user_id":"u1","product_id":"p1"}`))
	})

	It("rejects requests missing required fields", func() {
		rec := post("/api/v1/purchases", `{"user_id":"u1"}`)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring("VALIDATION_FAILED"))
		Expect(received).To(BeEmpty())
	})

	It("ignores routes outside the contract", func() {
		rec := post("/api/v1/unknown", `not json`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
	})
})

var _ = Describe("RequestID", func() {
	It("echoes the caller's id and exposes it to handlers", func() {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = chiMiddleware.GetReqID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		Expect(seen).To(Equal("req-42"))
		Expect(rec.Header().Get(RequestIDHeader)).To(Equal("req-42"))
	})

	It("generates an id when none is sent", func() {
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Header().Get(RequestIDHeader)).To(HaveLen(36))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("answers 500 without the panic value", func() {
		h := RecoveryMiddleware(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("secret detail")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).NotTo(ContainSubstring("secret detail"))
	})
})

var _ = Describe("log filtering", func() {
	It("masks credentials and tokens in JSON bodies", func() {
		out := filterSensitiveBody([]byte(`{"password":"p","user":{"refresh_token":"t","name":"n"},"delivered_credential":"KEY"}`))

		Expect(out).NotTo(ContainSubstring(`"p"`))
		Expect(out).NotTo(ContainSubstring("KEY"))
		Expect(out).To(ContainSubstring(`"name":"n"`))
	})

	It("masks sensitive headers", func() {
		h := http.Header{}
		h.Set("Authorization", "Bearer abc")
		h.Set("Accept", "application/json")

		filtered := filterSensitiveHeaders(h)
		Expect(filtered["Authorization"]).To(Equal(filteredValue))
		Expect(filtered["Accept"]).To(Equal("application/json"))
	})
})
