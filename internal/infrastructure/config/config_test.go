package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "test",
			Password: "test",
			Database: "test_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Reconcile: ReconcileConfig{
			LockTimeout: 3 * time.Second,
		},
		Worker: WorkerConfig{
			BatchSize: 10,
		},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_InvalidServerPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port too low", 0},
		{"port negative", -1},
		{"port too high", 99999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestConfig_Validate_InvalidReadTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ReadTimeout = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read_timeout")
}

func TestConfig_Validate_InvalidWriteTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.WriteTimeout = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "write_timeout")
}

func TestConfig_Validate_MissingDatabaseHost(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestConfig_Validate_InvalidDatabasePort(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Port = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.port")
}

func TestConfig_Validate_InvalidRedisPort(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Port = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis.port")
}

func TestConfig_Validate_InvalidLockTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Reconcile.LockTimeout = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile.lock_timeout")
}

func TestConfig_Validate_InvalidWorkerBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.BatchSize = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "worker.batch_size")
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "server.port")
	assert.Contains(t, errStr, "read_timeout")
	assert.Contains(t, errStr, "write_timeout")
	assert.Contains(t, errStr, "database.host")
	assert.Contains(t, errStr, "database.port")
	assert.Contains(t, errStr, "redis.port")
	assert.Contains(t, errStr, "reconcile.lock_timeout")
	assert.Contains(t, errStr, "worker.batch_size")
}

func TestServerConfig_ValidPorts(t *testing.T) {
	validPorts := []int{80, 443, 8080, 8443, 3000, 5000, 9000, 65535}

	for _, port := range validPorts {
		t.Run("port_valid", func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = port
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5432,
		User:     "app_user",
		Password: "secret",
		Database: "orders_db",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.example.com port=5432 user=app_user password=secret dbname=orders_db sslmode=require",
		cfg.DatabaseDSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "redis.example.com", Port: 6379}
	assert.Equal(t, "redis.example.com:6379", cfg.RedisAddr())
}

func TestGatewaysConfig_Fields(t *testing.T) {
	cfg := GatewaysConfig{
		PayU:      GatewayConfig{MerchantID: "508029", APIKey: "k1", BaseURL: "https://sandbox.api.payulatam.com"},
		Wompi:     GatewayConfig{APIKey: "pub_test", EventsSecret: "ev_test"},
		PayValida: GatewayConfig{MerchantID: "m-9", APIKey: "k3"},
	}

	assert.Equal(t, "508029", cfg.PayU.MerchantID)
	assert.Equal(t, "ev_test", cfg.Wompi.EventsSecret)
	assert.Equal(t, "k3", cfg.PayValida.APIKey)
}
