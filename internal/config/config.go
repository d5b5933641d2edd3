package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	DataDir        string `yaml:"dataDir"`
	LogLevel       string `yaml:"logLevel"`
	UploadStorage  string `yaml:"uploadStorage"` // "fs" or "minio"
	UploadDir      string `yaml:"uploadDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	RedisAddr      string `yaml:"redisAddr"` // empty: in-process publish locks
	RedisPassword  string `yaml:"redisPassword"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
	ImageMaxWidth  int    `yaml:"imageMaxWidth"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns a usable configuration when no config file exists.
func Default() FileConfig {
	cfg := FileConfig{}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("OPENSHELF_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OPENSHELF_UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("OPENSHELF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OPENSHELF_UPLOAD_STORAGE"); v != "" {
		cfg.UploadStorage = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("OPENSHELF_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("OPENSHELF_IMAGE_MAX_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ImageMaxWidth = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.UploadStorage == "" {
		cfg.UploadStorage = "fs"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 * 1024 * 1024
	}
	if cfg.ImageMaxWidth <= 0 {
		cfg.ImageMaxWidth = 1600
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.UploadStorage {
	case "fs":
	case "minio":
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required when uploadStorage is minio")
		}
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required when uploadStorage is minio")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required when uploadStorage is minio")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when uploadStorage is minio")
		}
	default:
		return fmt.Errorf("config: unknown uploadStorage %q (expected fs or minio)", cfg.UploadStorage)
	}
	if cfg.DataDir == "" {
		return errors.New("config: dataDir is required")
	}
	return nil
}
