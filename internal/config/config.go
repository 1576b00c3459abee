package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
	Attachment AttachmentConfig `mapstructure:"attachment"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type UpstreamConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AttachmentConfig 附件归一化的限制参数
type AttachmentConfig struct {
	MaxFileSize int64   `mapstructure:"max_file_size"` // 单个文件大小上限(字节)
	MaxPDFPages int     `mapstructure:"max_pdf_pages"` // PDF最多传输的页数
	RenderScale float64 `mapstructure:"render_scale"`  // PDF页面渲染放大倍数
	JPEGQuality int     `mapstructure:"jpeg_quality"`  // 页面图片压缩质量
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CHAT")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// 配置文件优先,没有配置时回退到环境变量
	if cfg.Upstream.APIKey == "" {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			cfg.Upstream.APIKey = apiKey
		}
		if apiKey := os.Getenv("ARK_API_KEY"); apiKey != "" {
			cfg.Upstream.APIKey = apiKey
		}
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.max_header_bytes", 1<<20)

	viper.SetDefault("upstream.model", "gpt-4o-mini")
	viper.SetDefault("upstream.max_tokens", 4096)
	viper.SetDefault("upstream.temperature", 0.7)
	viper.SetDefault("upstream.timeout", "5m")

	viper.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	viper.SetDefault("cors.max_age", 3600)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("attachment.max_file_size", 20<<20) // 20 MiB
	viper.SetDefault("attachment.max_pdf_pages", 10)
	viper.SetDefault("attachment.render_scale", 2.0)
	viper.SetDefault("attachment.jpeg_quality", 80)
}

func Get() *Config {
	return cfg
}
