package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"XetraCast/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	AWS struct {
		Region  string `yaml:"region"`
		RoleARN string `yaml:"role_arn"`
		Bucket  string `yaml:"bucket"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"aws"`
	Source struct {
		Type         string   `yaml:"type"` // pds | clickhouse
		PDSBucket    string   `yaml:"pds_bucket"`
		PDSRegion    string   `yaml:"pds_region"`
		LocalDir     string   `yaml:"local_dir"`
		From         string   `yaml:"from"`
		To           string   `yaml:"to"`
		Symbols      []string `yaml:"symbols"`
		SecurityType string   `yaml:"security_type"`
		Calendar     string   `yaml:"calendar"`
	} `yaml:"source"`
	Dataset struct {
		Freq             string   `yaml:"freq"`
		Target           string   `yaml:"target"`
		Covariates       []string `yaml:"covariates"`
		Categories       bool     `yaml:"categories"`
		TrainEnd         string   `yaml:"train_end"`
		PredictionLength int      `yaml:"prediction_length"`
		TestWindows      int      `yaml:"test_windows"`
		OutputDir        string   `yaml:"output_dir"`
	} `yaml:"dataset"`
	Training struct {
		Image           string            `yaml:"image"`
		InstanceType    string            `yaml:"instance_type"`
		InstanceCount   int               `yaml:"instance_count"`
		VolumeSizeGB    int               `yaml:"volume_size_gb"`
		MaxRuntime      time.Duration     `yaml:"max_runtime"`
		PollInterval    time.Duration     `yaml:"poll_interval"`
		JobPrefix       string            `yaml:"job_prefix"`
		Hyperparameters map[string]string `yaml:"hyperparameters"`
	} `yaml:"training"`
	Endpoint struct {
		Name           string        `yaml:"name"`
		Mode           string        `yaml:"mode"` // sagemaker | http
		URL            string        `yaml:"url"`
		InstanceType   string        `yaml:"instance_type"`
		InstanceCount  int           `yaml:"instance_count"`
		RequestsPerSec int           `yaml:"requests_per_sec"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxRetryTime   time.Duration `yaml:"max_retry_time"`
	} `yaml:"endpoint"`
	Forecast struct {
		NumSamples    int           `yaml:"num_samples"`
		Confidence    int           `yaml:"confidence"`
		CacheTTL      time.Duration `yaml:"cache_ttl"`
		HistoryPoints int           `yaml:"history_points"`
	} `yaml:"forecast"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled         bool     `yaml:"enabled"`
		Brokers         []string `yaml:"brokers"`
		Topic           string   `yaml:"topic"`
		AutoCreateTopic bool     `yaml:"auto_create_topic"`
		RequiredAcks    int      `yaml:"required_acks"`
		Compression     string   `yaml:"compression"`
		Producer        struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Registry struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"registry"`
	Schedule struct {
		Enabled     bool   `yaml:"enabled"`
		RefreshCron string `yaml:"refresh_cron"`
	} `yaml:"schedule"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads a .env file if present, then config from YAML, then applies env overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv("SAGEMAKER_ROLE_ARN"); v != "" {
		c.AWS.RoleARN = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.AWS.Bucket = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Source.Symbols = util.SplitList(v)
	}
	if v := os.Getenv("ENDPOINT_NAME"); v != "" {
		c.Endpoint.Name = v
	}
	if v := os.Getenv("ENDPOINT_URL"); v != "" {
		c.Endpoint.URL = v
		c.Endpoint.Mode = "http"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
		c.Redis.Enabled = true
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "eu-central-1"
	}
	if c.AWS.Prefix == "" {
		c.AWS.Prefix = "xetracast"
	}
	if c.Source.Type == "" {
		c.Source.Type = "pds"
	}
	if c.Source.PDSBucket == "" {
		c.Source.PDSBucket = "deutsche-boerse-xetra-pds"
	}
	if c.Source.PDSRegion == "" {
		c.Source.PDSRegion = "eu-central-1"
	}
	if c.Source.SecurityType == "" {
		c.Source.SecurityType = "Common stock"
	}
	if c.Source.Calendar == "" {
		c.Source.Calendar = "xetr"
	}
	if c.Dataset.Freq == "" {
		c.Dataset.Freq = "H"
	}
	if c.Dataset.Target == "" {
		c.Dataset.Target = "close"
	}
	if c.Dataset.Covariates == nil {
		c.Dataset.Covariates = []string{"open", "min", "max"}
	}
	if c.Dataset.PredictionLength == 0 {
		c.Dataset.PredictionLength = 24
	}
	if c.Dataset.TestWindows == 0 {
		c.Dataset.TestWindows = 3
	}
	if c.Dataset.OutputDir == "" {
		c.Dataset.OutputDir = "data"
	}
	if c.Training.InstanceType == "" {
		c.Training.InstanceType = "ml.c4.xlarge"
	}
	if c.Training.InstanceCount == 0 {
		c.Training.InstanceCount = 1
	}
	if c.Training.VolumeSizeGB == 0 {
		c.Training.VolumeSizeGB = 30
	}
	if c.Training.MaxRuntime == 0 {
		c.Training.MaxRuntime = 24 * time.Hour
	}
	if c.Training.PollInterval == 0 {
		c.Training.PollInterval = 30 * time.Second
	}
	if c.Training.JobPrefix == "" {
		c.Training.JobPrefix = "deepar-xetra"
	}
	if c.Endpoint.Name == "" {
		c.Endpoint.Name = "xetra-deepar"
	}
	if c.Endpoint.Mode == "" {
		c.Endpoint.Mode = "sagemaker"
	}
	if c.Endpoint.InstanceType == "" {
		c.Endpoint.InstanceType = "ml.m4.xlarge"
	}
	if c.Endpoint.InstanceCount == 0 {
		c.Endpoint.InstanceCount = 1
	}
	if c.Endpoint.RequestsPerSec == 0 {
		c.Endpoint.RequestsPerSec = 5
	}
	if c.Endpoint.Timeout == 0 {
		c.Endpoint.Timeout = 30 * time.Second
	}
	if c.Endpoint.MaxRetryTime == 0 {
		c.Endpoint.MaxRetryTime = 30 * time.Second
	}
	if c.Forecast.NumSamples == 0 {
		c.Forecast.NumSamples = 100
	}
	if c.Forecast.Confidence == 0 {
		c.Forecast.Confidence = 80
	}
	if c.Forecast.CacheTTL == 0 {
		c.Forecast.CacheTTL = 15 * time.Minute
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "xetracast"
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "xetra"
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "xetra.forecasts"
	}
	if c.Registry.SQLitePath == "" {
		c.Registry.SQLitePath = "data/registry.db"
	}
	if c.Schedule.RefreshCron == "" {
		c.Schedule.RefreshCron = "0 0 18 * * 1-5"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Source.Type != "pds" && c.Source.Type != "clickhouse" {
		return fmt.Errorf("source.type must be 'pds' or 'clickhouse', got '%s'", c.Source.Type)
	}
	if c.Source.Type == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("source.type 'clickhouse' requires clickhouse.enabled")
	}
	if c.Source.From == "" || c.Source.To == "" {
		return fmt.Errorf("source.from and source.to are required")
	}
	if c.Endpoint.Mode != "sagemaker" && c.Endpoint.Mode != "http" {
		return fmt.Errorf("endpoint.mode must be 'sagemaker' or 'http', got '%s'", c.Endpoint.Mode)
	}
	if c.Endpoint.Mode == "http" && c.Endpoint.URL == "" {
		return fmt.Errorf("endpoint.url is required when endpoint.mode is 'http'")
	}
	if c.Dataset.PredictionLength <= 0 {
		return fmt.Errorf("dataset.prediction_length must be positive")
	}
	if c.Dataset.TestWindows < 0 {
		return fmt.Errorf("dataset.test_windows cannot be negative")
	}
	if c.Forecast.Confidence <= 0 || c.Forecast.Confidence >= 100 {
		return fmt.Errorf("forecast.confidence must be in (0, 100), got %d", c.Forecast.Confidence)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// RequireAWS checks the fields needed by commands that talk to the managed service.
func (c *Config) RequireAWS() error {
	if c.AWS.RoleARN == "" {
		return fmt.Errorf("aws.role_arn is required")
	}
	if c.AWS.Bucket == "" {
		return fmt.Errorf("aws.bucket is required")
	}
	return nil
}
