package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/naturalily/shop-api/internal/payments"
	"github.com/naturalily/shop-api/internal/platform/config"
	"github.com/naturalily/shop-api/internal/platform/observability"
	"github.com/naturalily/shop-api/internal/repositories"
	"github.com/naturalily/shop-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Wishlist services.WishlistService
	Orders   services.OrderService
	Checkout services.CheckoutService
	System   services.SystemService
}

// Runtime carries process-level collaborators that do not come from the repository registry.
type Runtime struct {
	// Payments is optional; without it the checkout service is not built.
	Payments payments.Provider
	// Publisher is optional; without it order events are not announced.
	Publisher services.OrderEventPublisher
	Logger    *zap.Logger
	Clock     func() time.Time
	Build     services.BuildInfo
	// HealthChecks are appended to the registry's own dependency checks.
	HealthChecks []repositories.DependencyCheck
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes a Firestore or
// Postgres registry, while tests can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, rt Runtime) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, rt)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, rt Runtime) (Services, error) {
	clock := rt.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := rt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	eventLogger := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(logger.Named(name))
	}

	var svc Services
	var err error

	if svc.Catalog, err = services.NewCatalogService(reg.Products()); err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Clock:    clock,
		Currency: cfg.PSP.Currency,
		Logger:   eventLogger("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Wishlist, err = services.NewWishlistService(services.WishlistServiceDeps{
		Wishlists: reg.Wishlists(),
		Products:  reg.Products(),
		Clock:     clock,
		Logger:    eventLogger("wishlist"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build wishlist service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Publisher:       rt.Publisher,
		Clock:           clock,
		Logger:          eventLogger("orders"),
		Currency:        cfg.PSP.Currency,
		DecrementStock:  cfg.Orders.DecrementStock,
		HistoryPageSize: cfg.Orders.HistoryPageSize,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if rt.Payments != nil {
		svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
			Cart:       svc.Cart,
			Carts:      reg.Carts(),
			Products:   reg.Products(),
			Orders:     svc.Orders,
			Provider:   rt.Payments,
			Currency:   cfg.PSP.Currency,
			SuccessURL: cfg.PSP.SuccessURL,
			CancelURL:  cfg.PSP.CancelURL,
			Clock:      clock,
			Logger:     eventLogger("checkout"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
	}

	checks := append(append([]repositories.DependencyCheck(nil), reg.HealthChecks()...), rt.HealthChecks...)
	if len(checks) > 0 {
		healthRepo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(clock))
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            rt.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
