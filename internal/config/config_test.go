package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PLAYER_TRACKS", "")
	t.Setenv("PLAYER_HISTORY_PATH", "")
	t.Setenv("PLAYER_RETENTION_AGE", "")
	t.Setenv("PLAYER_SILENT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.NotNil(t, cfg.Pipeline)
	assert.Empty(t, cfg.Tracks)
	assert.Empty(t, cfg.HistoryPath)
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionAge)
	assert.False(t, cfg.Silent)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PLAYER_TRACKS", "file:///music/a.flac; file:///music/b.mp3 ;")
	t.Setenv("PLAYER_HISTORY_PATH", "/tmp/history.db")
	t.Setenv("PLAYER_RETENTION_AGE", "72h")
	t.Setenv("PLAYER_SILENT", "1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"file:///music/a.flac", "file:///music/b.mp3"}, cfg.Tracks)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryPath)
	assert.Equal(t, 72*time.Hour, cfg.RetentionAge)
	assert.True(t, cfg.Silent)
}

func TestLoadConfigIgnoresBadRetentionAge(t *testing.T) {
	t.Setenv("PLAYER_RETENTION_AGE", "yesterday")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionAge)
}
