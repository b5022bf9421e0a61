package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoaderConfig(files ...string) aconfig.Config {
	return aconfig.Config{
		EnvPrefix:        "BOOKSHOP",
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("BOOKSHOP_DATABASE_URL", "postgres://localhost/bookshop")

	cfg, err := loadConfig(testLoaderConfig())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.Database.TxTimeout)
	assert.Equal(t, 2*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, 5, cfg.Checkout.OrderNumberAttempts)
	assert.False(t, cfg.Payment.StrictTransitions)
	assert.InDelta(t, 20.0, cfg.RateLimit.RPS, 0)
	assert.False(t, cfg.Outbox.Enabled())
	assert.Equal(t, "bookshop.orders", cfg.Outbox.Topic)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("BOOKSHOP_DATABASE_URL", "postgres://localhost/bookshop")
	t.Setenv("BOOKSHOP_PAYMENT_STRICT_TRANSITIONS", "true")
	t.Setenv("BOOKSHOP_DATABASE_LOCK_TIMEOUT", "500ms")

	cfg, err := loadConfig(testLoaderConfig())
	require.NoError(t, err)
	assert.True(t, cfg.Payment.StrictTransitions)
	assert.Equal(t, 500*time.Millisecond, cfg.Database.LockTimeout)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://db/bookshop
checkout:
  order_number_attempts: 9
`), 0o600))

	cfg, err := loadConfig(testLoaderConfig(path))
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/bookshop", cfg.DatabaseURL)
	assert.Equal(t, 9, cfg.Checkout.OrderNumberAttempts)
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/bookshop")
	t.Setenv("PORT", "9000")

	cfg, err := loadConfig(testLoaderConfig())
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/bookshop", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := loadConfig(testLoaderConfig())
	require.Error(t, err)
}
