package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/capture"
	"github.com/lehigh-university-libraries/cxr-annotate/pkg/viewport"
)

// Config holds application configuration.
type Config struct {
	ListenAddress      string
	PublicDir          string
	ReportMetadataPath string
	// ImageDirs maps each image tier to the root of a MIMIC-CXR-JPG tree.
	// A tier without a directory is not served.
	ImageDirs map[models.ImageSize]string

	VisionEnabled bool
	LogLevel      slog.Level

	MinPointDistance float64
	RepeatInterval   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddress:      GetEnv("LISTEN_ADDRESS", ":8888"),
		PublicDir:          GetEnv("PUBLIC_DIR", "public"),
		ReportMetadataPath: GetEnv("REPORT_METADATA_PATH", "report_metadata.json"),
		ImageDirs: map[models.ImageSize]string{
			models.SizeLarge:  GetEnv("MIMICCXR_JPG_IMAGES_LARGE_DIR", ""),
			models.SizeMedium: GetEnv("MIMICCXR_JPG_IMAGES_MEDIUM_DIR", ""),
			models.SizeSmall:  GetEnv("MIMICCXR_JPG_IMAGES_SMALL_DIR", ""),
		},
	}

	var err error
	cfg.VisionEnabled, err = strconv.ParseBool(GetEnv("GOOGLE_CLOUD_VISION_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("GOOGLE_CLOUD_VISION_ENABLED: %w", err)
	}

	cfg.LogLevel, err = ParseLogLevel(GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg.MinPointDistance, err = strconv.ParseFloat(GetEnv("POLYGON_MIN_POINT_DISTANCE", strconv.Itoa(capture.DefaultMinSeparation)), 64)
	if err != nil {
		return nil, fmt.Errorf("POLYGON_MIN_POINT_DISTANCE: %w", err)
	}

	ms, err := strconv.Atoi(GetEnv("PRESS_REPEAT_INTERVAL_MS", strconv.Itoa(int(viewport.DefaultRepeatInterval/time.Millisecond))))
	if err != nil {
		return nil, fmt.Errorf("PRESS_REPEAT_INTERVAL_MS: %w", err)
	}
	cfg.RepeatInterval = time.Duration(ms) * time.Millisecond

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("LISTEN_ADDRESS cannot be empty")
	}
	if c.MinPointDistance <= 0 {
		return fmt.Errorf("POLYGON_MIN_POINT_DISTANCE must be positive")
	}
	if c.RepeatInterval <= 0 {
		return fmt.Errorf("PRESS_REPEAT_INTERVAL_MS must be positive")
	}
	for _, size := range models.ImageSizes {
		dir := c.ImageDirs[size]
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s image directory: %w", size, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s image directory %s is not a directory", size, dir)
		}
	}
	return nil
}

// ImageDir returns the directory serving size, if one is configured.
func (c *Config) ImageDir(size models.ImageSize) (string, bool) {
	dir := c.ImageDirs[size]
	return dir, dir != ""
}

func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

// GetEnv retrieves an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
