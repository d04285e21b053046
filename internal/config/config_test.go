package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_URI", "mongodb://localhost:27017")
	t.Setenv("AI_KEY", "ai-key-1")
	t.Setenv("CACHE_DISABLED", "true")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, DefaultRotationPeriod, cfg.RotationPeriod)
	assert.Equal(t, DefaultSectionThreshold, cfg.SectionThreshold)
	assert.Equal(t, DefaultMaxSectionCache, cfg.MaxSectionCache)
	assert.Equal(t, DefaultAIModel, cfg.AIModel)
	assert.True(t, cfg.CacheDisabled)
}

func TestLoad_RequiresStoreURI(t *testing.T) {
	t.Setenv("STORE_URI", "")
	t.Setenv("AI_KEY", "k")
	t.Setenv("CACHE_DISABLED", "true")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RequiresAIKey(t *testing.T) {
	t.Setenv("STORE_URI", "mongodb://localhost:27017")
	t.Setenv("AI_KEY", "")
	t.Setenv("CACHE_DISABLED", "true")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_CollectsNumberedAIKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("AI_KEY_2", "ai-key-2")
	t.Setenv("AI_KEY_3", "ai-key-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ai-key-1", "ai-key-2", "ai-key-3"}, cfg.AIKeys)
}

func TestLoad_NumberedKeysStopAtGap(t *testing.T) {
	setRequired(t)
	t.Setenv("AI_KEY_2", "ai-key-2")
	t.Setenv("AI_KEY_4", "orphan")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ai-key-1", "ai-key-2"}, cfg.AIKeys,
		"collection stops at the first numbering gap")
}

func TestLoad_CollectsPublisherBKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("PUBLISHER_B_KEY", "pb-1")
	t.Setenv("PUBLISHER_B_KEY_2", "pb-2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"pb-1", "pb-2"}, cfg.PublisherBKeys)
}

func TestLoad_CollectsCacheShards(t *testing.T) {
	t.Setenv("STORE_URI", "mongodb://localhost:27017")
	t.Setenv("AI_KEY", "k")
	t.Setenv("CACHE_DISABLED", "")
	t.Setenv("CACHE_URL_1", "redis://shard1:6379")
	t.Setenv("CACHE_TOKEN_1", "tok1")
	t.Setenv("CACHE_URL_2", "redis://shard2:6379")
	t.Setenv("CACHE_TOKEN_2", "tok2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.CacheShards, 2)
	assert.Equal(t, "redis://shard1:6379", cfg.CacheShards[0].URL)
	assert.Equal(t, "tok2", cfg.CacheShards[1].Token)
}

func TestLoad_RequiresShardsUnlessDisabled(t *testing.T) {
	t.Setenv("STORE_URI", "mongodb://localhost:27017")
	t.Setenv("AI_KEY", "k")
	t.Setenv("CACHE_DISABLED", "")

	_, err := Load()
	assert.Error(t, err, "no shards and cache not disabled must fail")
}

func TestLoad_RotationPeriodSeconds(t *testing.T) {
	setRequired(t)
	t.Setenv("ROTATION_PERIOD_SEC", "60")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.RotationPeriod)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SECTION_THRESHOLD", "3")
	t.Setenv("MAX_SECTION_CACHE", "7")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 3, cfg.SectionThreshold)
	assert.Equal(t, 7, cfg.MaxSectionCache)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("true"))
	assert.True(t, parseBool("1"))
	assert.True(t, parseBool("YES"))
	assert.False(t, parseBool("false"))
	assert.False(t, parseBool(""))
}
