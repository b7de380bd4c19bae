package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/upside/order-processing/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestDefaultConfigEnvOverride(t *testing.T) {
	t.Setenv("ORDERPROC_HTTP_ADDR", ":18080")
	t.Setenv("ORDERPROC_METRICS_ADDR", ":19090")

	cfg := DefaultConfig()
	require.Equal(t, ":18080", cfg.HTTPAddr)
	require.Equal(t, ":19090", cfg.MetricsAddr)
}

func TestNewDependenciesDefaultsToInMemory(t *testing.T) {
	t.Setenv("ORDERPROC_DB_DSN", "")
	t.Setenv("ORDERPROC_REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")

	deps, err := NewDependencies(testContext(t), nil)
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.NotNil(t, deps.Repo)
	require.NotNil(t, deps.Cache)
	require.IsType(t, domain.NoopPublisher{}, deps.Events)
	require.NoError(t, deps.PingStorage(testContext(t)))

	// In-memory зависимости действительно работают без инфраструктуры.
	saved, err := deps.Repo.Save(testContext(t), domain.Order{
		OrderNumber: "APP-1",
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(10),
		CustomerID:  "CUST-APP",
		ProductID:   "PROD-APP",
		Quantity:    1,
	})
	require.NoError(t, err)
	require.NotZero(t, saved.ID)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
