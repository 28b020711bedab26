package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/example/leaf-check/internal/preprocess"
)

type Config struct {
	Server ServerConfig
	Models ModelsConfig
	Redis  RedisConfig
	Cache  CacheConfig
	Upload UploadConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type ModelsConfig struct {
	CustomCNNModel    string
	CustomCNNMetadata string
	MobileNetModel    string
	MobileNetMetadata string
}

type RedisConfig struct {
	Addr string
}

type CacheConfig struct {
	TTL time.Duration
}

type UploadConfig struct {
	MaxSize      int64
	MinDimension int
	MaxDimension int
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func Load() (*Config, error) {
	viper.SetDefault("SERVER_HOST", "")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("MODEL_CUSTOM_CNN_PATH", "models/custom_cnn.onnx")
	viper.SetDefault("MODEL_CUSTOM_CNN_METADATA", "models/custom_cnn.json")
	viper.SetDefault("MODEL_MOBILENET_PATH", "models/mobilenetv2.onnx")
	viper.SetDefault("MODEL_MOBILENET_METADATA", "models/mobilenetv2.json")
	viper.SetDefault("REDIS_ADDR", "redis:6379")
	viper.SetDefault("CACHE_TTL", "5m")
	viper.SetDefault("UPLOAD_MAX_SIZE", 10*1024*1024) // 10MB
	viper.SetDefault("UPLOAD_MIN_DIMENSION", preprocess.MinDimension)
	viper.SetDefault("UPLOAD_MAX_DIMENSION", preprocess.MaxDimension)

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("SERVER_HOST"),
			Port: viper.GetString("SERVER_PORT"),
		},
		Models: ModelsConfig{
			CustomCNNModel:    viper.GetString("MODEL_CUSTOM_CNN_PATH"),
			CustomCNNMetadata: viper.GetString("MODEL_CUSTOM_CNN_METADATA"),
			MobileNetModel:    viper.GetString("MODEL_MOBILENET_PATH"),
			MobileNetMetadata: viper.GetString("MODEL_MOBILENET_METADATA"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
		},
		Cache: CacheConfig{
			TTL: viper.GetDuration("CACHE_TTL"),
		},
		Upload: UploadConfig{
			MaxSize:      viper.GetInt64("UPLOAD_MAX_SIZE"),
			MinDimension: viper.GetInt("UPLOAD_MIN_DIMENSION"),
			MaxDimension: viper.GetInt("UPLOAD_MAX_DIMENSION"),
		},
	}

	if cfg.Cache.TTL <= 0 {
		return nil, fmt.Errorf("CACHE_TTL must be positive, got %s", cfg.Cache.TTL)
	}
	if cfg.Upload.MaxSize <= 0 {
		return nil, fmt.Errorf("UPLOAD_MAX_SIZE must be positive, got %d", cfg.Upload.MaxSize)
	}
	if cfg.Upload.MinDimension <= 0 || cfg.Upload.MaxDimension <= cfg.Upload.MinDimension {
		return nil, fmt.Errorf("invalid upload dimension bounds: min %d, max %d",
			cfg.Upload.MinDimension, cfg.Upload.MaxDimension)
	}

	for _, path := range []string{cfg.Models.CustomCNNMetadata, cfg.Models.MobileNetMetadata} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("model metadata not found: %w", err)
		}
	}

	return cfg, nil
}
