package di

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domain "github.com/orderline/api/internal/domain"
	"github.com/orderline/api/internal/platform/config"
	"github.com/orderline/api/internal/platform/idempotency"
	"github.com/orderline/api/internal/repositories/memory"
)

type rejectAll struct{}

func (rejectAll) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	return nil, errors.New("no tokens in tests")
}

func testConfig() config.Config {
	return config.Config{
		Environment: "test",
		Store:       config.StoreConfig{Driver: config.StoreDriverMemory},
		Redis:       config.RedisConfig{TrackingTTL: time.Minute},
		Kafka:       config.KafkaConfig{OrderEventsTopic: "order-events"},
		Orders: config.OrdersConfig{
			NumberPrefix:   "ORD",
			TrackingPrefix: "TRK",
			Currency:       "INR",
		},
		Idempotency: config.IdempotencyConfig{TTL: time.Hour, CleanupInterval: time.Minute},
	}
}

func TestNewContainerWithoutRedisUsesInProcessFallbacks(t *testing.T) {
	c, err := NewContainer(context.Background(), testConfig(), zaptest.NewLogger(t), WithTokenVerifier(rejectAll{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.IsType(t, &memory.Store{}, c.Store)
	assert.IsType(t, &idempotency.MemoryStore{}, c.Idempotency)
	require.NotNil(t, c.Authenticator)
	require.NotNil(t, c.Services.Orders)
	require.NotNil(t, c.Services.Carts)
	require.NotNil(t, c.Services.Coupons)

	report, err := c.Services.System.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Contains(t, report.Checks, "store")
	assert.NotContains(t, report.Checks, "redis")
	assert.Equal(t, "test", report.Environment)
}

func TestNewContainerWiresRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Kafka.Brokers = []string{"127.0.0.1:9092"}

	c, err := NewContainer(context.Background(), cfg, zaptest.NewLogger(t), WithTokenVerifier(rejectAll{}))
	require.NoError(t, err)

	assert.IsType(t, &idempotency.RedisStore{}, c.Idempotency)
	report, err := c.Services.System.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Checks["redis"].Status)

	mr.Close()
	report, err = c.Services.System.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status, "losing redis keeps the instance ready")

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()), "close is idempotent")
}

func TestNewContainerTrackingRoundTrip(t *testing.T) {
	store := memory.NewStore()
	c, err := NewContainer(context.Background(), testConfig(), zaptest.NewLogger(t),
		WithStore(store), WithTokenVerifier(rejectAll{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.Same(t, store, c.Store)
	_, err = c.Services.Orders.TrackOrder(context.Background(), "TRK-UNKNOWN")
	require.Error(t, err)
}

func TestNewContainerRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "mongo"
	_, err := NewContainer(context.Background(), cfg, zaptest.NewLogger(t), WithTokenVerifier(rejectAll{}))
	require.Error(t, err)
}
