package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Service    ServiceConfig
	Server     ServerConfig
	JWT        JWTConfig
	Storage    StorageConfig
	Upload     UploadConfig
	CORS       CORSConfig
	Remover    RemoverConfig
	AutoBG     AutoBGConfig
	Download   DownloadConfig
	Processing ProcessingConfig
	Batch      BatchConfig
	Database   DatabaseConfig
}

type ServiceConfig struct {
	Name     string
	Version  string
	Debug    bool
	LogLevel string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type JWTConfig struct {
	Secret    string
	Algorithm string
}

type StorageConfig struct {
	Backend   string
	Path      string
	URL       string
	Bucket    string
	PublicURL string `mapstructure:"public_url"`
}

type UploadConfig struct {
	MaxFileSize       int64    `mapstructure:"max_file_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxFiles          int      `mapstructure:"max_files"`
}

type CORSConfig struct {
	Origins string
}

type RemoverConfig struct {
	Backend      string
	URL          string
	Model        string
	AlphaMatting bool          `mapstructure:"alpha_matting"`
	FGThreshold  int           `mapstructure:"fg_threshold"`
	BGThreshold  int           `mapstructure:"bg_threshold"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxSide      int           `mapstructure:"max_side"`
}

type AutoBGConfig struct {
	APIKey string `mapstructure:"api_key"`
	URL    string
}

type DownloadConfig struct {
	Timeout time.Duration
	MaxSize int64 `mapstructure:"max_size"`
}

type ProcessingConfig struct {
	Workers     int
	JPEGQuality int `mapstructure:"jpeg_quality"`
	// MaxPixels 解码前按文件头检查宽 * 高
	MaxPixels int64 `mapstructure:"max_pixels"`
}

type BatchConfig struct {
	MaxImages     int           `mapstructure:"max_images"`
	JobTTL        time.Duration `mapstructure:"job_ttl"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

type DatabaseConfig struct {
	DSN string
}

const (
	StorageLocal = "local"
	StorageGCS   = "gcs"

	RemoverRembg       = "rembg"
	RemoverAutoBG      = "autobg"
	RemoverPassthrough = "passthrough"
)

// keys 里的每一项都可以用环境变量覆盖，例如 storage.path -> STORAGE_PATH
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "image-service")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.debug", false)
	v.SetDefault("service.log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.algorithm", "HS256")

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.path", "/app/storage")
	v.SetDefault("storage.url", "/storage")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.public_url", "")

	v.SetDefault("upload.max_file_size", 10*1024*1024)
	v.SetDefault("upload.allowed_extensions", []string{"jpg", "jpeg", "png", "webp"})
	v.SetDefault("upload.max_files", 10)

	v.SetDefault("cors.origins", "http://localhost:3000,http://localhost:5173,http://localhost:19006")

	v.SetDefault("remover.backend", RemoverRembg)
	v.SetDefault("remover.url", "http://localhost:7000")
	v.SetDefault("remover.model", "u2net")
	v.SetDefault("remover.alpha_matting", true)
	v.SetDefault("remover.fg_threshold", 240)
	v.SetDefault("remover.bg_threshold", 10)
	v.SetDefault("remover.timeout", "60s")
	v.SetDefault("remover.max_side", 2048)

	v.SetDefault("autobg.api_key", "")
	v.SetDefault("autobg.url", "https://www.autobg.ai/api")

	v.SetDefault("download.timeout", "30s")
	v.SetDefault("download.max_size", 20*1024*1024)

	v.SetDefault("processing.workers", 2)
	v.SetDefault("processing.jpeg_quality", 92)
	v.SetDefault("processing.max_pixels", 40_000_000)

	v.SetDefault("batch.max_images", 20)
	v.SetDefault("batch.job_ttl", "24h")
	v.SetDefault("batch.prune_schedule", "@every 10m")

	v.SetDefault("database.dsn", "")
}

// 兼容旧的环境变量名
var envAliases = map[string]string{
	"service.debug":             "DEBUG",
	"upload.max_file_size":      "MAX_FILE_SIZE",
	"upload.allowed_extensions": "ALLOWED_EXTENSIONS",
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load 读取默认值、可选的 .env 文件和环境变量，环境变量优先
func Load(envFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		_ = v.BindEnv(key, envName(key), alias)
	}

	if envFile != "" {
		if err := readEnvFile(v, envFile); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "file:" + strings.TrimRight(c.Storage.Path, "/") + "/images.db"
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// readEnvFile dotenv 文件里的 KEY=VALUE 是扁平的，按 envName 映射回带层级的 key
func readEnvFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat config file %s: %w", path, err)
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	known := map[string]string{}
	for _, key := range v.AllKeys() {
		known[envName(key)] = key
	}
	for alias, key := range invert(envAliases) {
		known[alias] = key
	}

	for _, flat := range file.AllKeys() {
		key, ok := known[strings.ToUpper(flat)]
		if !ok || envSet(key) {
			continue
		}
		v.Set(key, file.Get(flat))
	}
	return nil
}

func envSet(key string) bool {
	if _, ok := os.LookupEnv(envName(key)); ok {
		return true
	}
	if alias, ok := envAliases[key]; ok {
		_, set := os.LookupEnv(alias)
		return set
	}
	return false
}

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func (c Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.JWT.Algorithm != "HS256" && c.JWT.Algorithm != "HS384" && c.JWT.Algorithm != "HS512" {
		return fmt.Errorf("unsupported jwt algorithm %q", c.JWT.Algorithm)
	}
	switch c.Storage.Backend {
	case StorageLocal:
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return errors.New("STORAGE_BUCKET is required for gcs storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Remover.Backend {
	case RemoverRembg, RemoverPassthrough:
	case RemoverAutoBG:
		if c.AutoBG.APIKey == "" {
			return errors.New("AUTOBG_API_KEY is required for autobg remover")
		}
	default:
		return fmt.Errorf("unknown remover backend %q", c.Remover.Backend)
	}
	if c.Processing.Workers < 1 {
		return errors.New("processing.workers must be at least 1")
	}
	if c.Processing.MaxPixels <= 0 {
		return errors.New("processing.max_pixels must be positive")
	}
	if c.Upload.MaxFileSize <= 0 {
		return errors.New("upload.max_file_size must be positive")
	}
	return nil
}

// CORSOrigins "*" 表示允许所有来源，否则按逗号拆分
func (c Config) CORSOrigins() []string {
	if strings.TrimSpace(c.CORS.Origins) == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.CORS.Origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
