package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/app"
)

func TestRun_StopsCleanlyOnCancel(t *testing.T) {
	cfg := app.DefaultCustomerServiceConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.ServiceToken = "secret"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, run(ctx, cfg))
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantWarnings int
		wantErr      string
	}{
		{
			name: "postgres without dsn",
			env: map[string]string{
				"CUSTOMERS_STORAGE_DRIVER": "postgres",
				"CUSTOMERS_SERVICE_TOKEN":  "secret",
			},
			wantWarnings: 1,
			wantErr:      "requires a DSN",
		},
		{
			name: "bad metrics address",
			env: map[string]string{
				"CUSTOMERS_HTTP_ADDR":    "127.0.0.1:0",
				"CUSTOMERS_METRICS_ADDR": "nowhere",
			},
			// пустой токен
			wantWarnings: 1,
			wantErr:      "listen metrics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, warnings := app.ReadCustomerServiceConfigFromEnv(func(key string) (string, bool) {
				value, ok := tt.env[key]
				return value, ok
			})
			require.Len(t, warnings, tt.wantWarnings)

			err := run(context.Background(), cfg)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
