package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/latoulicious/Kanade/pkg/pipeline"
)

// Config is the player binary's configuration: the pipeline's own
// settings plus the glue around it.
type Config struct {
	// Pipeline carries the playback core settings.
	Pipeline *pipeline.Config

	// HistoryPath is the SQLite file for playback history. Empty
	// disables history.
	HistoryPath string

	// RetentionAge is how long history rows are kept.
	RetentionAge time.Duration

	// Tracks are the references to play, in order.
	Tracks []string

	// Silent disables audio output, for headless runs.
	Silent bool
}

// LoadConfig loads configuration from the environment, reading a .env
// file first when one exists.
func LoadConfig() (*Config, error) {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	pc := pipeline.DefaultConfig()
	pc.LoadFromEnvironment()
	if err := pc.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline configuration")
	}

	cfg := &Config{
		Pipeline:     pc,
		HistoryPath:  os.Getenv("PLAYER_HISTORY_PATH"),
		RetentionAge: 30 * 24 * time.Hour,
		Silent:       os.Getenv("PLAYER_SILENT") == "1",
	}

	if val := os.Getenv("PLAYER_RETENTION_AGE"); val != "" {
		if age, err := time.ParseDuration(val); err == nil && age > 0 {
			cfg.RetentionAge = age
		}
	}

	if val := os.Getenv("PLAYER_TRACKS"); val != "" {
		for _, track := range strings.Split(val, ";") {
			if track = strings.TrimSpace(track); track != "" {
				cfg.Tracks = append(cfg.Tracks, track)
			}
		}
	}

	return cfg, nil
}
