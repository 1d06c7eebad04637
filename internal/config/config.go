// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends understood by the pipeline.
const (
	BackendS3    = "s3"
	BackendLocal = "local"
)

// Retention policies for local intermediate files.
const (
	RetainAll                  = "retain-all"
	DeleteAfterSuccess         = "delete-after-success"
	DeleteAfterUploadConfirmed = "delete-after-upload-confirmed"
)

type Config struct {
	Storage  StorageConfig
	App      AppConfig
	Log      LogConfig
	Tracking TrackingConfig
	Drive    DriveConfig
}

type StorageConfig struct {
	Backend   string
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
	LocalDir  string
}

type AppConfig struct {
	InputDir     string
	InputPattern string
	Retention    string
	SampleRows   int
	GroupBy      string
}

type LogConfig struct {
	Level  string
	Format string
}

type TrackingConfig struct {
	DatabaseURL string
	Driver      string
	Schema      string
}

type DriveConfig struct {
	FolderID        string
	CredentialsJSON string
}

// Load reads configuration from an optional .env file and the process
// environment. Each call builds a fresh viper instance so callers own the
// returned value.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		// Load .env file if it exists
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env files %v: %w", envFiles, err)
	}

	v := viper.New()

	v.SetDefault("STORAGE_BACKEND", BackendS3)
	v.SetDefault("S3_ENDPOINT", "s3.amazonaws.com")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("LOCAL_STORAGE_DIR", "./data/objectstore")
	v.SetDefault("APP_INPUT_DIR", "data")
	v.SetDefault("APP_INPUT_PATTERN", "")
	v.SetDefault("APP_RETENTION", RetainAll)
	v.SetDefault("APP_SAMPLE_ROWS", 5)
	v.SetDefault("APP_GROUP_BY", "state")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("TRACKING_DRIVER", "pgx")
	v.SetDefault("TRACKING_SCHEMA", "public")

	// Read from environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Storage: StorageConfig{
			Backend:   strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_BACKEND"))),
			Endpoint:  v.GetString("S3_ENDPOINT"),
			AccessKey: v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			Region:    v.GetString("AWS_REGION"),
			Bucket:    v.GetString("BUCKET_NAME"),
			UseSSL:    v.GetBool("S3_USE_SSL"),
			LocalDir:  v.GetString("LOCAL_STORAGE_DIR"),
		},
		App: AppConfig{
			InputDir:     v.GetString("APP_INPUT_DIR"),
			InputPattern: v.GetString("APP_INPUT_PATTERN"),
			Retention:    strings.ToLower(strings.TrimSpace(v.GetString("APP_RETENTION"))),
			SampleRows:   v.GetInt("APP_SAMPLE_ROWS"),
			GroupBy:      v.GetString("APP_GROUP_BY"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Tracking: TrackingConfig{
			DatabaseURL: v.GetString("TRACKING_DATABASE_URL"),
			Driver:      strings.ToLower(strings.TrimSpace(v.GetString("TRACKING_DRIVER"))),
			Schema:      v.GetString("TRACKING_SCHEMA"),
		},
		Drive: DriveConfig{
			FolderID:        v.GetString("DRIVE_FOLDER_ID"),
			CredentialsJSON: v.GetString("GOOGLE_DRIVE_CREDENTIALS_JSON"),
		},
	}

	return cfg, nil
}

// Validate reports every configuration problem at once. A non-nil result is
// fatal for the process: nothing can be processed without a storage target.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendS3:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			errs = append(errs, errors.New("BUCKET_NAME must be provided"))
		}
		if strings.TrimSpace(c.Storage.Endpoint) == "" {
			errs = append(errs, errors.New("S3_ENDPOINT must not be empty"))
		}
		if (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
			errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together"))
		}
	case BackendLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_DIR must be provided for the local backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	switch c.App.Retention {
	case RetainAll, DeleteAfterSuccess, DeleteAfterUploadConfirmed:
	default:
		errs = append(errs, fmt.Errorf("unknown APP_RETENTION %q", c.App.Retention))
	}

	if strings.TrimSpace(c.App.InputDir) == "" {
		errs = append(errs, errors.New("APP_INPUT_DIR must not be empty"))
	}
	if c.App.SampleRows < 0 {
		errs = append(errs, fmt.Errorf("APP_SAMPLE_ROWS must not be negative, got %d", c.App.SampleRows))
	}

	if c.Tracking.DatabaseURL != "" {
		switch c.Tracking.Driver {
		case "pgx", "postgres":
		default:
			errs = append(errs, fmt.Errorf("unknown TRACKING_DRIVER %q", c.Tracking.Driver))
		}
		if strings.TrimSpace(c.Tracking.Schema) == "" {
			errs = append(errs, errors.New("TRACKING_SCHEMA must not be empty"))
		}
	}

	if c.Drive.FolderID != "" && strings.TrimSpace(c.Drive.CredentialsJSON) == "" {
		errs = append(errs, errors.New("GOOGLE_DRIVE_CREDENTIALS_JSON is required when DRIVE_FOLDER_ID is set"))
	}

	return errors.Join(errs...)
}
