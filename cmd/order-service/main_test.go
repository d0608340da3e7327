package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/app"
)

func localConfig() app.OrderServiceConfig {
	cfg := app.DefaultOrderServiceConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	return cfg
}

func TestRun_StopsCleanlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, run(ctx, localConfig()))
}

func TestRun_RejectsUnsupportedStorageDriver(t *testing.T) {
	cfg := localConfig()
	cfg.Storage.Driver = "mongo"

	err := run(context.Background(), cfg)
	require.ErrorContains(t, err, `unsupported storage driver "mongo"`)
}

func TestRun_PostgresFromEnvRequiresDSN(t *testing.T) {
	cfg, warnings := app.ReadOrderServiceConfigFromEnv(mapLookup(map[string]string{
		"ORDERS_STORAGE_DRIVER": "postgres",
		"ORDERS_HTTP_ADDR":      "127.0.0.1:0",
		"ORDERS_METRICS_ADDR":   "127.0.0.1:0",
	}))
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "ORDERS_POSTGRES_DSN")

	err := run(context.Background(), cfg)
	require.ErrorContains(t, err, "requires a DSN")
}

func TestRun_ReportsListenError(t *testing.T) {
	cfg := localConfig()
	cfg.HTTPAddr = "not-an-address"

	err := run(context.Background(), cfg)
	require.ErrorContains(t, err, "listen api")
}

func mapLookup(values map[string]string) app.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
