package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Paths       PathsConfig       `mapstructure:"paths"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// AnalysisConfig 分析流水线参数
type AnalysisConfig struct {
	MaxConcurrent     int             `mapstructure:"max_concurrent"`
	QueueTimeout      time.Duration   `mapstructure:"queue_timeout"`
	ItemTimeout       time.Duration   `mapstructure:"item_timeout"`
	MaxBatchSize      int             `mapstructure:"max_batch_size"`
	BatchParallelism  int             `mapstructure:"batch_parallelism"`
	MinSide           int             `mapstructure:"min_side"`
	MaxDimension      int             `mapstructure:"max_dimension"`
	FaceConfThreshold float64         `mapstructure:"face_conf_threshold"`
	Heuristic         HeuristicConfig `mapstructure:"heuristic"`
}

// HeuristicConfig 启发式打分权重
type HeuristicConfig struct {
	FFTWeight  float64 `mapstructure:"fft_weight"`
	ELAWeight  float64 `mapstructure:"ela_weight"`
	LapWeight  float64 `mapstructure:"lap_weight"`
	JPEGWeight float64 `mapstructure:"jpeg_weight"`
	Threshold  float64 `mapstructure:"threshold"`
	Steepness  float64 `mapstructure:"steepness"`
}

// AttributionConfig 指纹库与家族归因参数
type AttributionConfig struct {
	TopK               int     `mapstructure:"top_k"`
	AcceptThreshold    float64 `mapstructure:"accept_threshold"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
}

// PathsConfig 外部文件路径
type PathsConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	FingerprintsPath string `mapstructure:"fingerprints_path"`
	WeightsPath      string `mapstructure:"weights_path"`
	FaceModelPath    string `mapstructure:"face_model_path"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 加载失败时回退到默认配置
		return getDefaultConfig()
	}
	return cfg
}

// Validate 启动时校验关键阈值
func (c *Config) Validate() error {
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if c.Analysis.MaxBatchSize <= 0 {
		return fmt.Errorf("analysis.max_batch_size must be positive")
	}
	if c.Analysis.MaxDimension > 0 && c.Analysis.MaxDimension < c.Analysis.MinSide {
		return fmt.Errorf("analysis.max_dimension must not be below analysis.min_side")
	}
	if c.Analysis.FaceConfThreshold < 0 || c.Analysis.FaceConfThreshold > 1 {
		return fmt.Errorf("analysis.face_conf_threshold must be in [0,1]")
	}
	if c.Attribution.AcceptThreshold < 0 || c.Attribution.AcceptThreshold > 1 {
		return fmt.Errorf("attribution.accept_threshold must be in [0,1]")
	}
	if c.Attribution.DuplicateThreshold < 0 || c.Attribution.DuplicateThreshold > 1 {
		return fmt.Errorf("attribution.duplicate_threshold must be in [0,1]")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg", "image/webp", "image/bmp"})

	v.SetDefault("analysis.max_concurrent", 3)
	v.SetDefault("analysis.queue_timeout", 30*time.Second)
	v.SetDefault("analysis.item_timeout", 20*time.Second)
	v.SetDefault("analysis.max_batch_size", 5)
	v.SetDefault("analysis.batch_parallelism", 3)
	v.SetDefault("analysis.min_side", 224)
	v.SetDefault("analysis.max_dimension", 4096)
	v.SetDefault("analysis.face_conf_threshold", 0.90)
	v.SetDefault("analysis.heuristic.fft_weight", 0.9)
	v.SetDefault("analysis.heuristic.ela_weight", 0.6)
	v.SetDefault("analysis.heuristic.lap_weight", 0.2)
	v.SetDefault("analysis.heuristic.jpeg_weight", 0.15)
	v.SetDefault("analysis.heuristic.threshold", 0.7)
	v.SetDefault("analysis.heuristic.steepness", 4.0)

	v.SetDefault("attribution.top_k", 0)
	v.SetDefault("attribution.accept_threshold", 0.92)
	v.SetDefault("attribution.duplicate_threshold", 0.995)

	v.SetDefault("paths.output_dir", "./outputs")
	v.SetDefault("paths.fingerprints_path", "./data/fingerprints.json")
	v.SetDefault("paths.weights_path", "./weights/detector.onnx")
	v.SetDefault("paths.face_model_path", "./weights/face_detection_yunet.onnx")
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    10,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/webp", "image/bmp"},
		},
		Analysis: AnalysisConfig{
			MaxConcurrent:     3,
			QueueTimeout:      30 * time.Second,
			ItemTimeout:       20 * time.Second,
			MaxBatchSize:      5,
			BatchParallelism:  3,
			MinSide:           224,
			MaxDimension:      4096,
			FaceConfThreshold: 0.90,
			Heuristic: HeuristicConfig{
				FFTWeight:  0.9,
				ELAWeight:  0.6,
				LapWeight:  0.2,
				JPEGWeight: 0.15,
				Threshold:  0.7,
				Steepness:  4.0,
			},
		},
		Attribution: AttributionConfig{
			TopK:               0,
			AcceptThreshold:    0.92,
			DuplicateThreshold: 0.995,
		},
		Paths: PathsConfig{
			OutputDir:        "./outputs",
			FingerprintsPath: "./data/fingerprints.json",
			WeightsPath:      "./weights/detector.onnx",
			FaceModelPath:    "./weights/face_detection_yunet.onnx",
		},
	}
}
