package config

import (
	"testing"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefault(t *testing.T) Config {
	t.Helper()
	k := koanf.New(".")
	require.NoError(t, k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()))
	var c Config
	require.NoError(t, k.Unmarshal("", &c))
	return c
}

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	c := loadDefault(t)
	require.NoError(t, c.Validate())

	assert.Equal(t, "disburse-engine", c.Application)
	assert.Equal(t, "PHP", c.Currency)
	assert.Equal(t, int32(2), c.AmountScale)
	assert.Equal(t, "disbursement-requests", c.Kafka.Topic)
	assert.Equal(t, 100, c.Batch.MaxSize)
	assert.Equal(t, 5, c.Retry.MaxAttempts)
	assert.Equal(t, 86400, c.SLA.WindowSeconds)
	require.Len(t, c.Providers, 2)
	assert.Equal(t, "MOCKBANK", c.Providers[0].Code)
	assert.Equal(t, "polling", c.Providers[0].Kind)
	assert.Equal(t, "MOCKWALLET", c.Providers[1].Code)
	assert.Equal(t, "webhook", c.Providers[1].Kind)
}

func TestValidateCatchesBadConfig(t *testing.T) {
	t.Parallel()

	c := loadDefault(t)
	c.Currency = ""
	c.Batch.MaxSize = 0
	assert.Error(t, c.Validate())

	c = loadDefault(t)
	c.Providers[0].Kind = "smoke-signal"
	assert.Error(t, c.Validate())

	c = loadDefault(t)
	c.Providers[1].WebhookSecret = ""
	assert.Error(t, c.Validate())

	c = loadDefault(t)
	c.Providers = nil
	assert.Error(t, c.Validate())
}

// A zero interval from an override file would panic time.NewTicker in the
// scheduler and sweep loops; Validate must refuse it up front.
func TestValidateRejectsZeroIntervals(t *testing.T) {
	t.Parallel()

	c := loadDefault(t)
	c.Retry.PollSeconds = 0
	assert.Error(t, c.Validate())

	c = loadDefault(t)
	c.Retry.BaseIntervalSeconds = 0
	assert.Error(t, c.Validate())

	c = loadDefault(t)
	c.Retry.MaxIntervalSeconds = 0
	assert.Error(t, c.Validate())

	c = loadDefault(t)
	c.Recon.SweepSeconds = 0
	assert.Error(t, c.Validate())

	c = loadDefault(t)
	c.Batch.QueueSize = 0
	assert.Error(t, c.Validate())
}
