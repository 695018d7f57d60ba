package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/attrgraph/sdk/attribute"
	"github.com/attrgraph/sdk/config"
	"github.com/attrgraph/sdk/health"
	"github.com/attrgraph/sdk/idstore"
	"github.com/attrgraph/sdk/plugin"
	"github.com/attrgraph/sdk/resolver"
)

// Service is the top-level entry point protocol front-ends consume.
// It owns an activated resolver and, when stored identifiers are in play,
// the identifier store behind them.
type Service interface {
	// Resolve computes the attribute set to release for the request.
	// When requested is empty, all attribute definitions are resolved.
	Resolve(ctx context.Context, req *plugin.Request, requested ...string) (attribute.Set, error)

	// Deactivate rotates a stored pairwise identifier: the active record
	// for (idpID, rpID) whose value equals value is marked inactive as of
	// asOf (now, when zero), and the next resolution for the principal
	// behind it installs a fresh, unrelated identifier.
	Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error

	// Health reports the service's operational state.
	Health(ctx context.Context) health.Status

	// Close releases the service's resources, including the store.
	Close() error
}

// New creates a Service from the given options.
//
// The plugin set comes from exactly one of: WithResolver, WithPlugins, or
// WithConfigPath. A store passed via WithStore overrides the one the
// configuration would open.
func New(opts ...Option) (Service, error) {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	svc := &service{
		logger: cfg.logger,
		store:  cfg.store,
	}

	switch {
	case cfg.resolver != nil:
		svc.resolver = cfg.resolver

	case len(cfg.plugins) > 0:
		r, err := resolver.New(resolver.Config{
			Plugins:       cfg.plugins,
			Logger:        cfg.logger,
			MeterProvider: cfg.meterProvider,
		})
		if err != nil {
			return nil, NewError(KindConfiguration, "activate plugin set", err)
		}
		svc.resolver = r

	case cfg.configPath != "":
		doc, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, NewError(KindConfiguration, "load configuration", err)
		}
		if svc.store == nil {
			store, err := doc.Store.Open()
			if err != nil {
				return nil, NewError(KindStorage, "open identifier store", err)
			}
			svc.store = store
			svc.ownsStore = true
		}
		r, err := doc.Build(svc.store, cfg.logger, cfg.meterProvider)
		if err != nil {
			if svc.ownsStore {
				svc.store.Close()
			}
			return nil, NewError(KindConfiguration, "build resolver", err)
		}
		svc.resolver = r

	default:
		return nil, NewError(KindConfiguration, "no resolver, plugins or config path provided", ErrInvalidConfig)
	}

	return svc, nil
}

// service is the private implementation of Service.
type service struct {
	resolver  *resolver.Resolver
	store     idstore.Store
	ownsStore bool
	logger    *slog.Logger
}

// Resolve implements Service.
func (s *service) Resolve(ctx context.Context, req *plugin.Request, requested ...string) (attribute.Set, error) {
	if s.resolver == nil {
		return nil, NewError(KindResolution, "service has no resolver", ErrNotActivated)
	}
	attrs, err := s.resolver.Resolve(ctx, req, requested...)
	if err != nil {
		if errors.Is(err, plugin.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrResolutionFailed, err)
		}
		return nil, NewError(KindResolution, "resolve attributes", err)
	}
	return attrs, nil
}

// Deactivate implements Service.
func (s *service) Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error {
	if s.store == nil {
		return NewError(KindStorage, "service has no identifier store", ErrInvalidConfig)
	}
	if err := s.store.Deactivate(ctx, idpID, rpID, value, asOf); err != nil {
		return NewError(KindStorage, "deactivate identifier", err)
	}
	s.logger.InfoContext(ctx, "identifier deactivated",
		slog.String("idp_id", idpID),
		slog.String("rp_id", rpID))
	return nil
}

// Health implements Service.
func (s *service) Health(ctx context.Context) health.Status {
	if s.resolver == nil {
		return health.Unhealthy("no resolver activated", nil)
	}
	if s.store != nil {
		return health.StoreCheck(ctx, s.store, 0)
	}
	return health.Healthy("resolver active, no store configured")
}

// Close implements Service.
func (s *service) Close() error {
	if s.store != nil && s.ownsStore {
		return s.store.Close()
	}
	return nil
}
