package product

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/core/cache"
	productDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/product"
	"github.com/frahmantamala/purchase-core/internal/core/events"
	"github.com/frahmantamala/purchase-core/internal/core/storage"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("product not found")

type RepositoryAPI interface {
	GetByID(ctx context.Context, id string) (*productDatamodel.Product, error)
	ListAvailable(ctx context.Context, limit, offset int) ([]*productDatamodel.Product, error)
	Create(ctx context.Context, p *productDatamodel.Product) error
}

type Service struct {
	repo   RepositoryAPI
	cache  cache.Store
	ttl    time.Duration
	policy storage.Policy
	logger *slog.Logger
}

// NewService wires the catalog. store may be nil to disable caching.
func NewService(repo RepositoryAPI, store cache.Store, ttl time.Duration, policy storage.Policy, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  store,
		ttl:    ttl,
		policy: policy,
		logger: logger,
	}
}

func cacheKey(id string) string {
	return "catalog:product:" + id
}

// GetProduct serves catalog reads through the cache.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	if s.cache != nil {
		var cached Product
		found, err := cache.GetJSON(ctx, s.cache, cacheKey(id), &cached)
		if err != nil {
			s.logger.Warn("product cache read failed", "product_id", id, "error", err)
		}
		if found {
			return &cached, nil
		}
	}

	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cacheKey(id), p, s.ttl); err != nil {
			s.logger.Warn("product cache write failed", "product_id", id, "error", err)
		}
	}
	return p, nil
}

// LookupForSale always reads the store, never the cache.
func (s *Service) LookupForSale(ctx context.Context, id string) (*Product, error) {
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*Product, error) {
	var row *productDatamodel.Product
	err := storage.Read(ctx, s.policy, func(ctx context.Context) error {
		var err error
		row, err = s.repo.GetByID(ctx, id)
		return err
	}, ErrNotFound)
	if errors.Is(err, ErrNotFound) {
		return nil, internal.ErrProductNotFound
	}
	if err != nil {
		s.logger.Error("failed to load product", "product_id", id, "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}
	return FromDataModel(row), nil
}

func (s *Service) ListAvailable(ctx context.Context, limit, offset int) ([]*Product, error) {
	var rows []*productDatamodel.Product
	err := storage.Read(ctx, s.policy, func(ctx context.Context) error {
		var err error
		rows, err = s.repo.ListAvailable(ctx, limit, offset)
		return err
	})
	if err != nil {
		s.logger.Error("failed to list products", "error", err)
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}

	products := make([]*Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, FromDataModel(row))
	}
	return products, nil
}

func (s *Service) Create(ctx context.Context, p *Product) error {
	if err := storage.Write(ctx, s.policy, func(ctx context.Context) error {
		return s.repo.Create(ctx, ToDataModel(p))
	}); err != nil {
		s.logger.Error("failed to create product", "product_id", p.ID, "error", err)
		return internal.ErrStoreUnavailable.WithCause(err)
	}
	s.logger.Info("product created", "product_id", p.ID, "price", p.Price.String())
	return nil
}

func (s *Service) InvalidateProduct(ctx context.Context, id string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cacheKey(id))
}

// RegisterInvalidation drops the cached entry once a product is sold.
func (s *Service) RegisterInvalidation(bus *events.EventBus) {
	bus.Subscribe(events.EventTypePaymentCompleted, func(ctx context.Context, event events.Event) error {
		id := events.StringField(event, "product_id")
		if id == "" {
			return nil
		}
		return s.InvalidateProduct(ctx, id)
	})
}
