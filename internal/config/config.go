package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Timezone   string           `yaml:"timezone"`
	Cameras    []CameraConfig   `yaml:"cameras"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Poller     PollerConfig     `yaml:"poller"`
	Upload     UploadConfig     `yaml:"upload"`
	Backoff    BackoffConfig    `yaml:"backoff"`
	Status     StatusConfig     `yaml:"status"`
	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	DeviceID    string `yaml:"device_id"`
}

type CameraConfig struct {
	ID     string `yaml:"id"`
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

type RecorderConfig struct {
	RecordingsDir string `yaml:"recordings_dir"`
	TickSeconds   int    `yaml:"tick_seconds"`
}

type PollerConfig struct {
	IntervalSeconds  int `yaml:"interval_seconds"`
	LookAheadMinutes int `yaml:"look_ahead_minutes"`
}

type UploadConfig struct {
	Workers           int  `yaml:"workers"`
	MaxAttempts       int  `yaml:"max_attempts"`
	QueueSize         int  `yaml:"queue_size"`
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	TimeoutSeconds    int  `yaml:"timeout_seconds"`
}

type BackoffConfig struct {
	CapSeconds int `yaml:"cap_seconds"`
}

type StatusConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

type SourceConfig struct {
	DSN            string `yaml:"dsn"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	BaseURL   string `yaml:"base_url"`
}

type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env подхватываем, если он есть; его отсутствие не ошибка
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Source.DSN == "" {
		return errors.New("booking source dsn is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return ValidateCameras(c.Cameras)
}

func ValidateCameras(cameras []CameraConfig) error {
	if len(cameras) == 0 {
		return errors.New("at least one camera is required")
	}

	// Check for duplicate camera IDs
	seen := make(map[string]bool)
	for _, cam := range cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera with device %q has empty id", cam.Device)
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id found: %s", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.App.Name == "" {
		c.App.Name = "camrec"
	}
	if c.App.DeviceID == "" {
		c.App.DeviceID, _ = os.Hostname()
	}
	if c.Recorder.RecordingsDir == "" {
		c.Recorder.RecordingsDir = "recordings"
	}
	if c.Recorder.TickSeconds == 0 {
		c.Recorder.TickSeconds = 1
	}
	if c.Poller.IntervalSeconds == 0 {
		c.Poller.IntervalSeconds = 5
	}
	if c.Poller.LookAheadMinutes == 0 {
		c.Poller.LookAheadMinutes = 15
	}
	if c.Upload.Workers == 0 {
		c.Upload.Workers = 1
	}
	if c.Upload.MaxAttempts == 0 {
		c.Upload.MaxAttempts = 3
	}
	if c.Upload.QueueSize == 0 {
		c.Upload.QueueSize = 128
	}
	if c.Upload.TimeoutSeconds == 0 {
		c.Upload.TimeoutSeconds = 120
	}
	if c.Backoff.CapSeconds == 0 {
		c.Backoff.CapSeconds = 30
	}
	if c.Status.IntervalSeconds == 0 {
		c.Status.IntervalSeconds = 3
	}
	if c.Source.TimeoutSeconds == 0 {
		c.Source.TimeoutSeconds = 30
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	for i := range c.Cameras {
		if c.Cameras[i].Width == 0 {
			c.Cameras[i].Width = 1920
		}
		if c.Cameras[i].Height == 0 {
			c.Cameras[i].Height = 1080
		}
		if c.Cameras[i].FPS == 0 {
			c.Cameras[i].FPS = 30
		}
	}
}

// Location resolves the configured reference timezone. Validate guarantees
// the name parses, so steady-state callers may ignore the error.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
