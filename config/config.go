// Package config loads service settings from the environment.
package config

import (
	"github.com/caarlos0/env/v11"
)

type Config struct {
	DataDir        string `env:"MASKSTAB_DATA_DIR"     envDefault:"/tmp/maskstab"`
	ModelPath      string `env:"MASKSTAB_MODEL_PATH"   envDefault:"models/deeplabv3.onnx"`
	OnnxRuntimeLib string `env:"MASKSTAB_ORT_LIB"      envDefault:"/usr/local/lib/libonnxruntime.so"`

	BlobBackend    string `env:"MASKSTAB_BLOB_BACKEND" envDefault:"fs"`
	MinIOEndpoint  string `env:"MINIO_ENDPOINT"        envDefault:"minio:9000"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"      envDefault:"minioadmin"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"      envDefault:"minioadmin"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL"         envDefault:"false"`
	MinIOBucket    string `env:"MINIO_BUCKET"          envDefault:"maskstab-artifacts"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	MetricsPort  int    `env:"METRICS_PORT"  envDefault:"8083"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT" envDefault:""`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
