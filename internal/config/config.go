// Package config loads the pipeline configuration: an embedded default
// definition merged with an optional user file and ELT_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/BartekS5/elt/internal/storage"
	"github.com/BartekS5/elt/internal/warehouse"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// Watermark drivers.
const (
	WatermarkFile  = "file"
	WatermarkMongo = "mongo"
	WatermarkRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	PipelineID  string        `mapstructure:"pipeline_id"`
	Timezone    string        `mapstructure:"timezone"`
	StartDate   string        `mapstructure:"start_date"`
	ScratchDir  string        `mapstructure:"scratch_dir"`
	Concurrency int           `mapstructure:"concurrency"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	Schedule    string        `mapstructure:"schedule"`

	Source    SourceConfig    `mapstructure:"source"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Watermark WatermarkConfig `mapstructure:"watermark"`
	History   HistoryConfig   `mapstructure:"history"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	DBT       DBTConfig       `mapstructure:"dbt"`

	Entities []models.EntityMapping  `mapstructure:"entities"`
	Steps    []models.StepDefinition `mapstructure:"steps"`

	loc *time.Location
}

type SourceConfig struct {
	URL           string        `mapstructure:"url"`
	Retries       int           `mapstructure:"retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	Root      string `mapstructure:"root"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PathStyle bool   `mapstructure:"path_style"`
}

type WarehouseConfig struct {
	Driver  string `mapstructure:"driver"`
	URL     string `mapstructure:"url"`
	Dataset string `mapstructure:"dataset"`
}

type WatermarkConfig struct {
	Driver     string `mapstructure:"driver"`
	Path       string `mapstructure:"path"`
	URL        string `mapstructure:"url"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"`
	Debug  bool   `mapstructure:"debug"`
}

// DBTConfig is the environment command steps run in.
type DBTConfig struct {
	Workdir string   `mapstructure:"workdir"`
	Env     []string `mapstructure:"env"`
}

// Location returns the configured timezone. Valid only after Validate.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Start returns the configured start date, zero when unset.
func (c *Config) Start() time.Time {
	if c.StartDate == "" {
		return time.Time{}
	}
	t, err := utils.ParseDate(c.StartDate, c.Location())
	if err != nil {
		return time.Time{}
	}
	return t
}

// Validate checks required keys and known drivers, and resolves the
// timezone.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.PipelineID) == "" {
		add("pipeline_id is required")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		add("invalid timezone %q: %w", c.Timezone, err)
	} else {
		c.loc = loc
	}
	if c.StartDate != "" {
		if _, err := utils.ParseDate(c.StartDate, c.Location()); err != nil {
			add("invalid start_date: %w", err)
		}
	}
	if c.ScratchDir == "" {
		add("scratch_dir is required")
	}
	if c.Concurrency < 0 {
		add("concurrency must not be negative")
	}
	if c.Source.Retries < 0 {
		add("source.retries must not be negative")
	}

	switch c.Storage.Driver {
	case storage.DriverLocal:
		if c.Storage.Root == "" {
			add("storage.root is required for the local driver")
		}
	case storage.DriverS3, storage.DriverMinio:
		if c.Storage.Bucket == "" {
			add("storage.bucket is required for the %s driver", c.Storage.Driver)
		}
		if c.Storage.Driver == storage.DriverMinio && c.Storage.Endpoint == "" {
			add("storage.endpoint is required for the minio driver")
		}
	default:
		add("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Warehouse.Driver {
	case warehouse.DriverSQLite, warehouse.DriverPostgres:
	default:
		add("unknown warehouse driver %q", c.Warehouse.Driver)
	}
	if c.Warehouse.URL == "" {
		add("warehouse.url is required")
	}
	if c.Warehouse.Dataset == "" {
		add("warehouse.dataset is required")
	}

	switch c.Watermark.Driver {
	case WatermarkFile:
		if c.Watermark.Path == "" {
			add("watermark.path is required for the file driver")
		}
	case WatermarkMongo:
		if c.Watermark.URL == "" || c.Watermark.Database == "" || c.Watermark.Collection == "" {
			add("watermark.url, database and collection are required for the mongo driver")
		}
	case WatermarkRedis:
		if c.Watermark.URL == "" {
			add("watermark.url is required for the redis driver")
		}
	default:
		add("unknown watermark driver %q", c.Watermark.Driver)
	}

	if len(c.Entities) == 0 {
		add("at least one entity is required")
	}
	for _, e := range c.Entities {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	names := lo.Map(c.Entities, func(e models.EntityMapping, _ int) string { return e.Name })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		add("duplicate entity names: %s", strings.Join(dups, ", "))
	}
	dests := lo.Map(c.Entities, func(e models.EntityMapping, _ int) string { return e.DestinationTable() })
	if dups := lo.FindDuplicates(dests); len(dups) > 0 {
		add("entities share destination tables: %s", strings.Join(dups, ", "))
	}

	return errors.Join(errs...)
}
