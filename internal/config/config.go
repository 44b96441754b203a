package config

import (
	"fmt"

	"github.com/coolmanlume/aubrowser/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus" // Use logrus
)

// Defaults applied after decoding when the file leaves a field unset.
const (
	DefaultConcurrency    = 4
	DefaultMaxWidth       = 680
	DefaultCeilingSec     = 30
	DefaultDatabasePath   = "aubrowser.db"
	DefaultPreviewPath    = "previews"
	DefaultBleveIndexPath = "aubrowser.bleve"
)

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml") and returns a models.Config with defaults filled in.
// A missing file is an error; the caller decides whether that is fatal.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml" // Default path
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if len(cfg.PluginDirs) == 0 {
		log.Warn("Warning: PluginDirs is not set in config.toml; scans will find no components")
	}

	ApplyDefaults(&cfg)

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills zero-valued capture settings. Also used when no config
// file exists at all and the CLI runs on flags alone.
func ApplyDefaults(cfg *models.Config) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cfg.PreviewPath == "" {
		cfg.PreviewPath = DefaultPreviewPath
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = DefaultBleveIndexPath
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = DefaultMaxWidth
	}
	if cfg.CeilingSec <= 0 {
		cfg.CeilingSec = DefaultCeilingSec
	}
	if cfg.ArtifactVersion <= 0 {
		cfg.ArtifactVersion = models.CurrentArtifactVersion
	}
}
