package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	v := viper.New()
	v.SetDefault("server.port", "8080")
	v.SetDefault("billing.default_price", "1.50")
	v.SetDefault("billing.words_per_unit", 500)
	v.SetDefault("worker.count", 3)
	v.SetDefault("queue.min_idle", 2*time.Minute)
	v.SetDefault("queue.reclaim_every", 30*time.Second)

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "1.5", cfg.Billing.DefaultPrice.String())
	assert.Equal(t, 500, cfg.Billing.WordsPerUnit)
	assert.Equal(t, 3, cfg.Worker.Count)
	assert.Equal(t, 2*time.Minute, cfg.Queue.MinIdle)
	assert.Equal(t, 30*time.Second, cfg.Queue.ReclaimEvery)
}

func TestFromViper_InvalidPrice(t *testing.T) {
	v := viper.New()
	v.Set("billing.default_price", "one credit")

	_, err := FromViper(v)
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("BILLING_DEFAULT_PRICE", "0.75")
	t.Setenv("ANALYZER_KIND", "remote")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, "0.75", cfg.Billing.DefaultPrice.String())
	assert.Equal(t, "remote", cfg.Analyzer.Kind)
	assert.Equal(t, "ml:tasks", cfg.Queue.Stream)
}
