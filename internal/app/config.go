package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/invoker"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// LookupFunc читает переменную окружения; совместима с os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// StorageConfig содержит общие настройки хранилища сервисов.
type StorageConfig struct {
	Driver      string
	PostgresDSN string
	AutoMigrate bool
	SeedDemo    bool
}

// OrderServiceConfig описывает запуск движка заказов.
type OrderServiceConfig struct {
	HTTPAddr    string
	MetricsAddr string
	Storage     StorageConfig

	CustomersBaseURL string
	CustomersToken   string
	Invoker          invoker.Config
	ConfirmTTL       time.Duration

	KafkaBrokers  []string
	KafkaClientID string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
	ReconcileAutoCancel bool
}

// CustomerServiceConfig описывает запуск реестра клиентов.
type CustomerServiceConfig struct {
	HTTPAddr     string
	MetricsAddr  string
	Storage      StorageConfig
	ServiceToken string
}

// OrchestratorConfig описывает запуск оркестратора.
type OrchestratorConfig struct {
	HTTPAddr         string
	MetricsAddr      string
	CustomersBaseURL string
	CustomersToken   string
	OrdersBaseURL    string
	Invoker          invoker.Config
}

// DefaultOrderServiceConfig возвращает настройки для локального запуска.
func DefaultOrderServiceConfig() OrderServiceConfig {
	return OrderServiceConfig{
		HTTPAddr:    ":3002",
		MetricsAddr: ":9102",
		Storage: StorageConfig{
			Driver:      StorageDriverMemory,
			AutoMigrate: true,
			SeedDemo:    true,
		},
		CustomersBaseURL: "http://localhost:3001",
		Invoker:          invoker.DefaultConfig(),
		ConfirmTTL:       10 * time.Minute,

		KafkaClientID: "ordersaga-order-service",
		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ReconcileInterval:   time.Minute,
		ReconcileStaleAfter: 15 * time.Minute,
	}
}

// DefaultCustomerServiceConfig возвращает настройки для локального запуска.
func DefaultCustomerServiceConfig() CustomerServiceConfig {
	return CustomerServiceConfig{
		HTTPAddr:    ":3001",
		MetricsAddr: ":9101",
		Storage: StorageConfig{
			Driver:      StorageDriverMemory,
			AutoMigrate: true,
			SeedDemo:    true,
		},
	}
}

// DefaultOrchestratorConfig возвращает настройки для локального запуска.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		HTTPAddr:         ":3000",
		MetricsAddr:      ":9100",
		CustomersBaseURL: "http://localhost:3001",
		OrdersBaseURL:    "http://localhost:3002",
		Invoker:          invoker.DefaultConfig(),
	}
}

// ReadOrderServiceConfigFromEnv читает переменные ORDERS_*.
// Некорректные значения заменяются значениями по умолчанию и попадают в warnings.
func ReadOrderServiceConfigFromEnv(lookup LookupFunc) (OrderServiceConfig, []string) {
	cfg := DefaultOrderServiceConfig()
	env := newEnvReader(lookup)

	cfg.HTTPAddr = env.str("ORDERS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = env.str("ORDERS_METRICS_ADDR", cfg.MetricsAddr)
	cfg.Storage = env.storage("ORDERS_", cfg.Storage)

	cfg.CustomersBaseURL = env.str("ORDERS_CUSTOMERS_API_BASE", cfg.CustomersBaseURL)
	cfg.CustomersToken = env.str("ORDERS_CUSTOMERS_SERVICE_TOKEN", cfg.CustomersToken)
	cfg.Invoker = env.invoker("ORDERS_", cfg.Invoker)
	cfg.ConfirmTTL = env.duration("ORDERS_IDEMPOTENCY_TTL", cfg.ConfirmTTL)

	cfg.KafkaBrokers = env.list("ORDERS_KAFKA_BROKERS")
	cfg.KafkaClientID = env.str("ORDERS_KAFKA_CLIENT_ID", cfg.KafkaClientID)
	cfg.KafkaTopic = env.str("ORDERS_KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaDLQTopic = env.str("ORDERS_KAFKA_DLQ_TOPIC", cfg.KafkaDLQTopic)

	cfg.OutboxPollInterval = env.duration("ORDERS_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = env.positiveInt("ORDERS_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = env.positiveInt("ORDERS_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = env.duration("ORDERS_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	cfg.IdempotencyCleanupInterval = env.duration("ORDERS_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = env.positiveInt("ORDERS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)

	cfg.ReconcileInterval = env.duration("ORDERS_RECONCILE_INTERVAL", cfg.ReconcileInterval)
	cfg.ReconcileStaleAfter = env.duration("ORDERS_RECONCILE_STALE_AFTER", cfg.ReconcileStaleAfter)
	cfg.ReconcileAutoCancel = env.boolean("ORDERS_RECONCILE_AUTO_CANCEL", cfg.ReconcileAutoCancel)

	return cfg, env.warnings
}

// ReadCustomerServiceConfigFromEnv читает переменные CUSTOMERS_*.
func ReadCustomerServiceConfigFromEnv(lookup LookupFunc) (CustomerServiceConfig, []string) {
	cfg := DefaultCustomerServiceConfig()
	env := newEnvReader(lookup)

	cfg.HTTPAddr = env.str("CUSTOMERS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = env.str("CUSTOMERS_METRICS_ADDR", cfg.MetricsAddr)
	cfg.Storage = env.storage("CUSTOMERS_", cfg.Storage)
	cfg.ServiceToken = env.str("CUSTOMERS_SERVICE_TOKEN", cfg.ServiceToken)
	if cfg.ServiceToken == "" {
		env.warn("CUSTOMERS_SERVICE_TOKEN is empty: every internal request will be rejected")
	}

	return cfg, env.warnings
}

// ReadOrchestratorConfigFromEnv читает переменные ORCH_*.
func ReadOrchestratorConfigFromEnv(lookup LookupFunc) (OrchestratorConfig, []string) {
	cfg := DefaultOrchestratorConfig()
	env := newEnvReader(lookup)

	cfg.HTTPAddr = env.str("ORCH_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = env.str("ORCH_METRICS_ADDR", cfg.MetricsAddr)
	cfg.CustomersBaseURL = env.str("ORCH_CUSTOMERS_API_BASE", cfg.CustomersBaseURL)
	cfg.CustomersToken = env.str("ORCH_SERVICE_TOKEN", cfg.CustomersToken)
	cfg.OrdersBaseURL = env.str("ORCH_ORDERS_API_BASE", cfg.OrdersBaseURL)
	cfg.Invoker = env.invoker("ORCH_", cfg.Invoker)

	return cfg, env.warnings
}

// OSLookup читает переменные процесса.
func OSLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

type envReader struct {
	lookup   LookupFunc
	warnings []string
}

func newEnvReader(lookup LookupFunc) *envReader {
	if lookup == nil {
		lookup = OSLookup
	}
	return &envReader{lookup: lookup}
}

func (e *envReader) warn(format string, args ...any) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key, fallback string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return fallback
}

func (e *envReader) list(key string) []string {
	v, ok := e.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *envReader) boolean(key string, fallback bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		e.warn("%s=%q is not a boolean, using %t", key, v, fallback)
		return fallback
	}
	return parsed
}

func (e *envReader) positiveInt(key string, fallback int) int {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		e.warn("%s=%q must be a positive integer, using %d", key, v, fallback)
		return fallback
	}
	return parsed
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		e.warn("%s=%q must be a positive duration, using %s", key, v, fallback)
		return fallback
	}
	return parsed
}

// millis читает целое число миллисекунд (REQUEST_TIMEOUT_MS и подобные).
func (e *envReader) millis(key string, fallback time.Duration, allowZero bool) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed < 0 || (parsed == 0 && !allowZero) {
		e.warn("%s=%q must be a non-negative number of milliseconds, using %s", key, v, fallback)
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func (e *envReader) invoker(prefix string, cfg invoker.Config) invoker.Config {
	cfg.Timeout = e.millis(prefix+"REQUEST_TIMEOUT_MS", cfg.Timeout, false)
	cfg.BaseDelay = e.millis(prefix+"RETRY_BASE_MS", cfg.BaseDelay, true)
	cfg.MaxAttempts = e.positiveInt(prefix+"RETRY_MAX_ATTEMPTS", cfg.MaxAttempts)
	return cfg
}

func (e *envReader) storage(prefix string, cfg StorageConfig) StorageConfig {
	driver := strings.ToLower(e.str(prefix+"STORAGE_DRIVER", cfg.Driver))
	switch driver {
	case StorageDriverMemory, StorageDriverPostgres:
		cfg.Driver = driver
	default:
		e.warn("%sSTORAGE_DRIVER=%q is not supported, using %s", prefix, driver, cfg.Driver)
	}
	cfg.PostgresDSN = e.str(prefix+"POSTGRES_DSN", cfg.PostgresDSN)
	cfg.AutoMigrate = e.boolean(prefix+"POSTGRES_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.SeedDemo = e.boolean(prefix+"SEED_DEMO_DATA", cfg.SeedDemo)
	if cfg.Driver == StorageDriverPostgres && cfg.PostgresDSN == "" {
		e.warn("%sSTORAGE_DRIVER=postgres requires %sPOSTGRES_DSN", prefix, prefix)
	}
	return cfg
}
