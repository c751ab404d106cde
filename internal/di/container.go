package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"

	"github.com/orderline/api/internal/platform/auth"
	"github.com/orderline/api/internal/platform/cache"
	"github.com/orderline/api/internal/platform/config"
	"github.com/orderline/api/internal/platform/events"
	pfirestore "github.com/orderline/api/internal/platform/firestore"
	"github.com/orderline/api/internal/platform/idempotency"
	"github.com/orderline/api/internal/platform/notify"
	"github.com/orderline/api/internal/platform/observability"
	"github.com/orderline/api/internal/platform/textutil"
	"github.com/orderline/api/internal/repositories"
	firestorestore "github.com/orderline/api/internal/repositories/firestore"
	"github.com/orderline/api/internal/repositories/memory"
	"github.com/orderline/api/internal/repositories/postgres"
	"github.com/orderline/api/internal/services"
)

const (
	storeCheckTimeout = 1500 * time.Millisecond
	redisCheckTimeout = 500 * time.Millisecond
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders  services.OrderService
	Carts   services.CartService
	Coupons services.CouponService
	System  services.SystemService
}

// Container wires the store, optional integrations and services for runtime use.
type Container struct {
	Config        config.Config
	Store         repositories.Store
	Services      Services
	Authenticator *auth.Authenticator
	Idempotency   idempotency.Store

	logger  *zap.Logger
	closers []closer
	janitor context.CancelFunc
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	store    repositories.Store
	verifier auth.TokenVerifier
	build    services.BuildInfo
}

// WithStore injects a ready store instead of building one from config.
func WithStore(store repositories.Store) Option {
	return func(o *options) { o.store = store }
}

// WithTokenVerifier replaces the Firebase verifier.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithBuildInfo sets the metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// NewContainer constructs the runtime dependencies. On failure everything
// opened so far is closed again.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	if err := c.buildStore(ctx, o.store); err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.addCloser("redis", func(context.Context) error { return redisClient.Close() })
	}

	orderDeps := services.OrderServiceDeps{
		Store:        c.Store,
		Currency:     cfg.Orders.Currency,
		Shipping:     services.FlatShipping(cfg.Orders.FlatShippingFee),
		OrderNumbers: services.OrderNumberGenerator(cfg.Orders.NumberPrefix),
		TrackingIDs:  services.TrackingIDGenerator(cfg.Orders.TrackingPrefix),
		Notes:        textutil.NewPlainText(),
		Logger:       observability.EventLogger(logger.Named("orders")),
	}

	metrics, err := observability.NewOrderMetrics(nil)
	if err != nil {
		logger.Warn("order metrics unavailable", zap.Error(err))
	} else {
		orderDeps.Metrics = metrics
	}

	if redisClient != nil {
		tracking, err := cache.NewTrackingCache(redisClient, cfg.Redis.TrackingTTL, logger.Named("tracking"))
		if err != nil {
			return nil, fmt.Errorf("build tracking cache: %w", err)
		}
		orderDeps.Tracking = tracking
	}

	if cfg.PubSub.Enabled {
		notifier, err := c.buildNotifier(ctx)
		if err != nil {
			return nil, err
		}
		orderDeps.Notifier = notifier
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.OrderEventsTopic,
			ErrorLogger: observability.NewPrintfAdapter(logger.Named("kafka"), zapcore.ErrorLevel),
		})
		if err != nil {
			return nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		c.addCloser("kafka", func(context.Context) error { return publisher.Close() })
		orderDeps.Events = publisher
	}

	if c.Services.Orders, err = services.NewOrderService(orderDeps); err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}
	if c.Services.Carts, err = services.NewCartService(services.CartServiceDeps{
		Store:  c.Store,
		Logger: observability.EventLogger(logger.Named("cart")),
	}); err != nil {
		return nil, fmt.Errorf("build cart service: %w", err)
	}
	if c.Services.Coupons, err = services.NewCouponService(services.CouponServiceDeps{
		Store:  c.Store,
		Logger: observability.EventLogger(logger.Named("coupons")),
	}); err != nil {
		return nil, fmt.Errorf("build coupon service: %w", err)
	}
	if c.Services.System, err = c.buildSystemService(redisClient, o.build); err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	if redisClient != nil {
		if c.Idempotency, err = idempotency.NewRedisStore(redisClient); err != nil {
			return nil, fmt.Errorf("build idempotency store: %w", err)
		}
	} else {
		memStore := idempotency.NewMemoryStore()
		janitorCtx, cancel := context.WithCancel(context.Background())
		c.janitor = cancel
		go memStore.RunJanitor(janitorCtx, cfg.Idempotency.CleanupInterval)
		c.Idempotency = memStore
	}

	verifier := o.verifier
	if verifier == nil {
		firebase, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = firebase
	}
	c.Authenticator = auth.NewAuthenticator(verifier)

	return c, nil
}

func (c *Container) buildStore(ctx context.Context, injected repositories.Store) error {
	if injected != nil {
		c.Store = injected
		return nil
	}
	cfg := c.Config
	switch cfg.Store.Driver {
	case config.StoreDriverMemory, "":
		c.logger.Warn("using in-memory store; data is lost on restart")
		c.Store = memory.NewStore()
	case config.StoreDriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxOpenConns / 2,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		c.Store = store
		c.addCloser("postgres", store.Close)
		if cfg.Postgres.MigrateOnStart {
			if err := store.Migrate(); err != nil {
				return fmt.Errorf("migrate postgres store: %w", err)
			}
		}
	case config.StoreDriverFirestore:
		var providerOpts []pfirestore.ProviderOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			providerOpts = append(providerOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
		}
		provider := pfirestore.NewProvider(cfg.Firestore, providerOpts...)
		c.addCloser("firestore", provider.Close)
		store, err := firestorestore.NewStore(provider)
		if err != nil {
			return fmt.Errorf("build firestore store: %w", err)
		}
		c.Store = store
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

func (c *Container) buildNotifier(ctx context.Context) (*notify.PubSubNotifier, error) {
	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(c.Config.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, c.Config.PubSub.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	topic := client.Topic(c.Config.PubSub.SMSTopic)
	c.addCloser("pubsub", func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	notifier, err := notify.NewPubSubNotifier(topic, notify.Options{Logger: c.logger.Named("sms")})
	if err != nil {
		return nil, fmt.Errorf("build sms notifier: %w", err)
	}
	return notifier, nil
}

func (c *Container) buildSystemService(redisClient *redis.Client, build services.BuildInfo) (services.SystemService, error) {
	store := c.Store
	checks := []repositories.DependencyCheck{{
		Name:     "store",
		Timeout:  storeCheckTimeout,
		Critical: true,
		Check:    store.Ping,
	}}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: redisCheckTimeout,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	if build.Environment == "" {
		build.Environment = c.Config.Environment
	}
	return services.NewSystemService(services.SystemServiceDeps{
		Health: health,
		Clock:  time.Now,
		Build:  build,
	})
}

func (c *Container) addCloser(name string, fn func(context.Context) error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Close stops background workers and releases clients in reverse order of
// construction.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.janitor != nil {
		c.janitor()
		c.janitor = nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(ctx); err != nil {
			c.logger.Warn("close failed", zap.String("dependency", cl.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", cl.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
