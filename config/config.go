package config

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Pipeline    Pipeline      `yaml:"pipeline"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
}

type Pipeline struct {
	// WorkDir is the shared scratch root for stage work dirs, one
	// subdirectory per job id.
	WorkDir          string        `yaml:"work_dir"`
	FFmpegTimeout    time.Duration `yaml:"ffmpeg_timeout"`
	StitchWorkers    int           `yaml:"stitch_workers"`
	TranscodeWorkers int           `yaml:"transcode_workers"`
	PublishWorkers   int           `yaml:"publish_workers"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	StopGracePeriod  time.Duration `yaml:"stop_grace_period"`
}

type RabbitMQ struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
	Pass string `json:"pass"`
	Kind string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	dsn := viper.GetString("postgresql_host")
	if dsn == "" {
		return nil, fmt.Errorf("config: postgresql_host is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if viper.GetString("rabbitmq_host") == "" {
		return nil, fmt.Errorf("config: rabbitmq_host is required")
	}
	rabbitmq := &RabbitMQ{
		Host: viper.GetString("rabbitmq_host"),
		Port: viper.GetInt("rabbitmq_port"),
		User: viper.GetString("rabbitmq_user"),
		Pass: viper.GetString("rabbitmq_pass"),
		Kind: viper.GetString("rabbitmq_kind"),
	}
	if rabbitmq.Kind == "" {
		rabbitmq.Kind = "topic"
	}

	if viper.GetString("minio.url") == "" || viper.GetString("minio.bucket") == "" {
		return nil, fmt.Errorf("config: minio.url and minio.bucket are required")
	}
	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: viper.GetBool("minio.secure"),
	})
	if err != nil {
		return nil, err
	}

	viper.SetDefault("pipeline.work_dir", "temp")
	viper.SetDefault("pipeline.ffmpeg_timeout", "30m")
	viper.SetDefault("pipeline.stitch_workers", 1)
	viper.SetDefault("pipeline.transcode_workers", 4)
	viper.SetDefault("pipeline.publish_workers", 4)
	viper.SetDefault("pipeline.restart_delay", "5s")
	viper.SetDefault("pipeline.stop_grace_period", "10s")

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
		},
		Pipeline: Pipeline{
			WorkDir:          viper.GetString("pipeline.work_dir"),
			FFmpegTimeout:    viper.GetDuration("pipeline.ffmpeg_timeout"),
			StitchWorkers:    viper.GetInt("pipeline.stitch_workers"),
			TranscodeWorkers: viper.GetInt("pipeline.transcode_workers"),
			PublishWorkers:   viper.GetInt("pipeline.publish_workers"),
			RestartDelay:     viper.GetDuration("pipeline.restart_delay"),
			StopGracePeriod:  viper.GetDuration("pipeline.stop_grace_period"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
