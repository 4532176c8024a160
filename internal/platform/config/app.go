package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"runhub/internal/cache"
	"runhub/internal/domain/knowledge"
	"runhub/internal/source"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string           `json:"log_level"`
	LogFormat string           `json:"log_format"`
	Server    ServerConfig     `json:"server"`
	Database  DatabaseConfig   `json:"database"`
	Redis     RedisConfig      `json:"redis"`
	Auth      AuthConfig       `json:"auth"`
	Embedding EmbeddingConfig  `json:"embedding"`
	Knowledge knowledge.Config `json:"knowledge"`
	Cache     cache.Config     `json:"cache"`
	Registry  source.Config    `json:"registry"`
	Sources   SourcesConfig    `json:"sources"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// DatabaseConfig 反馈存储。URL 为空时反馈接口仅记日志。
type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig 分布式缓存层。URL 为空时只用内存层。
type RedisConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// EmbeddingConfig embedding 服务凭据。APIKey 为空时检索退化为纯模糊匹配。
type EmbeddingConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// SourcesConfig 各类型知识源的实例列表
type SourcesConfig struct {
	File []FileSourceConfig `json:"file"`
	Wiki []WikiSourceConfig `json:"wiki"`
	Git  []GitSourceConfig  `json:"git"`
	Web  []WebSourceConfig  `json:"web"`
}

type FileSourceConfig struct {
	source.AdapterConfig
	Roots        []string `json:"roots"`
	MaxFileBytes int64    `json:"max_file_bytes"`
}

type WikiSourceConfig struct {
	source.AdapterConfig
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Space    string `json:"space"`
}

type GitSourceConfig struct {
	source.AdapterConfig
	Token string   `json:"token"`
	Repos []string `json:"repos"`
	Paths []string `json:"paths"`
}

type WebSourceConfig struct {
	source.AdapterConfig
	URLs            []string `json:"urls"`
	RefreshSeconds  int      `json:"refresh_seconds"`
	MaxContentBytes int      `json:"max_content_bytes"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 60,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Knowledge: *knowledge.DefaultConfig(),
		Cache:     *cache.DefaultConfig(),
		Registry:  *source.DefaultConfig(),
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	applyString("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)

	applyFloat64("KB_MIN_SIMILARITY", &c.Knowledge.MinSimilarityThreshold)
	applyInt("KB_MAX_RESULTS", &c.Knowledge.MaxResults)
	applyString("KB_EMBEDDING_PROVIDER", &c.Knowledge.EmbeddingProvider)
	applyString("KB_EMBEDDING_MODEL", &c.Knowledge.EmbeddingModel)
	applyInt("KB_EMBEDDING_DIMS", &c.Knowledge.EmbeddingDims)

	applyInt("CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)

	applyInt("REGISTRY_MAX_CONCURRENT", &c.Registry.MaxConcurrent)
	applyInt("REGISTRY_MIN_WORKING_ADAPTERS", &c.Registry.MinimumWorkingAdapters)
	applyInt("REGISTRY_DEFAULT_TIMEOUT_MS", &c.Registry.DefaultTimeoutMs)
	applyInt("REGISTRY_FAILURE_THRESHOLD", &c.Registry.DefaultFailureThreshold)
	applyInt("REGISTRY_COOLDOWN_SECONDS", &c.Registry.DefaultCooldownSeconds)
	applyInt("REGISTRY_HEALTH_INTERVAL", &c.Registry.HealthCheckIntervalSeconds)

	// 单实例源可直接用环境变量声明，便于容器部署
	if v := os.Getenv("FILE_DOCS_ROOTS"); v != "" {
		c.Sources.File = append(c.Sources.File, FileSourceConfig{
			AdapterConfig: source.AdapterConfig{Name: "local-docs", Enabled: true, Priority: 10},
			Roots:         splitList(v),
		})
	}
	if v := os.Getenv("WIKI_BASE_URL"); v != "" {
		c.Sources.Wiki = append(c.Sources.Wiki, WikiSourceConfig{
			AdapterConfig: source.AdapterConfig{Name: "wiki", Enabled: true, Priority: 8},
			BaseURL:       v,
			Username:      os.Getenv("WIKI_USERNAME"),
			Password:      os.Getenv("WIKI_PASSWORD"),
			Space:         os.Getenv("WIKI_SPACE"),
		})
	}
	if v := os.Getenv("GIT_DOCS_REPOS"); v != "" {
		c.Sources.Git = append(c.Sources.Git, GitSourceConfig{
			AdapterConfig: source.AdapterConfig{Name: "git-docs", Enabled: true, Priority: 6},
			Token:         os.Getenv("GIT_DOCS_TOKEN"),
			Repos:         splitList(v),
			Paths:         splitList(os.Getenv("GIT_DOCS_PATHS")),
		})
	}
	if v := os.Getenv("WEB_DOCS_URLS"); v != "" {
		c.Sources.Web = append(c.Sources.Web, WebSourceConfig{
			AdapterConfig: source.AdapterConfig{Name: "web-docs", Enabled: true, Priority: 2},
			URLs:          splitList(v),
		})
	}
}

func (c *AppConfig) normalize() {
	for i := range c.Sources.File {
		c.Sources.File[i].Type = string(knowledge.SourceTypeFile)
	}
	for i := range c.Sources.Wiki {
		c.Sources.Wiki[i].Type = string(knowledge.SourceTypeWiki)
	}
	for i := range c.Sources.Git {
		c.Sources.Git[i].Type = string(knowledge.SourceTypeGit)
	}
	for i := range c.Sources.Web {
		c.Sources.Web[i].Type = string(knowledge.SourceTypeWeb)
	}
}

func (c *AppConfig) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}
	if c.enabledSourceCount() == 0 {
		return fmt.Errorf("at least one knowledge source must be enabled")
	}
	return nil
}

func (c *AppConfig) enabledSourceCount() int {
	n := 0
	for _, s := range c.Sources.File {
		if s.Enabled {
			n++
		}
	}
	for _, s := range c.Sources.Wiki {
		if s.Enabled {
			n++
		}
	}
	for _, s := range c.Sources.Git {
		if s.Enabled {
			n++
		}
	}
	for _, s := range c.Sources.Web {
		if s.Enabled {
			n++
		}
	}
	return n
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}
