package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meter-indicators/internal/analysis"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./data/indicators.db", c.Database.DSN)
	assert.Equal(t, 4, c.Engine.Workers)
	assert.Equal(t, analysis.DefaultPrecision, c.Engine.Precision.Analysis())
	assert.Equal(t, DeviceSourceFile, c.Devices.Source)
	assert.Equal(t, 10*time.Minute, c.Devices.CacheTTL)

	loc, err := c.Engine.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: ":memory:"
  conditional_writes: true
telemetry:
  base_url: http://telemetry.local
  username: engine
engine:
  timezone: UTC
  workers: 8
  precision:
    energy: 2
    percent: 1
    factor: 2
devices:
  source: telemetry
  cache_ttl: 90s
  categories: [main_meter]
kafka:
  brokers: [localhost:9092]
  topic: indicator-jobs
log:
  level: debug
  format: json
`)
	t.Setenv("TELEMETRY_PASSWORD", "from-env")
	t.Setenv("API_PORT", "9090")

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Database.ConditionalWrites)
	assert.Equal(t, 8, c.Engine.Workers)
	assert.Equal(t, analysis.Precision{Energy: 2, Percent: 1, Factor: 2}, c.Engine.Precision.Analysis())
	assert.Equal(t, 90*time.Second, c.Devices.CacheTTL)
	assert.Equal(t, []string{"main_meter"}, c.Devices.Categories)
	assert.Equal(t, "indicator-engine", c.Kafka.GroupID)
	assert.Equal(t, uint64(5), c.Kafka.MaxRetries)
	assert.Equal(t, "from-env", c.Telemetry.Password)
	assert.Equal(t, "9090", c.API.Port)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"timezone":         "engine:\n  timezone: Mars/Olympus\n",
		"device source":    "devices:\n  source: ldap\n",
		"telemetry source": "devices:\n  source: telemetry\n",
		"kafka topic":      "kafka:\n  brokers: [localhost:9092]\n",
		"log level":        "log:\n  level: loud\n",
		"log format":       "log:\n  format: xml\n",
		"workers":          "engine:\n  workers: -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadUncheckedKeepsZeroValues(t *testing.T) {
	c, err := LoadUnchecked(writeConfig(t, "engine:\n  workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Engine.Workers)
	assert.Empty(t, c.Database.DSN)
}
