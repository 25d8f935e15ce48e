// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Store         StoreConfig         `mapstructure:"store"`
	Search        SearchConfig        `mapstructure:"search"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig 存储 PostgreSQL (pgvector) 的配置。
// Host/Port/User/Password/DBName 的默认值只适用于非生产环境。
type PostgresConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

// DSN 生成 lib/pq 可识别的连接串。
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.DBName,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
	}
	return u.String()
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig 选择向量存储后端。
type StoreConfig struct {
	Driver    string `mapstructure:"driver"` // postgres 或 elasticsearch
	HNSWIndex bool   `mapstructure:"hnsw_index"`
}

// SearchConfig 存储相似度检索相关的配置。
type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses      string        `mapstructure:"addresses"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	IndexName      string        `mapstructure:"index_name"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	QPS        float64       `mapstructure:"qps"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// store.driver 的可选值。
const (
	StorePostgres      = "postgres"
	StoreElasticsearch = "elasticsearch"
)

// 环境变量名与原有部署脚本保持一致。
var postgresEnv = map[string]string{
	"database.postgres.host":     "POSTGRES_HOST",
	"database.postgres.port":     "POSTGRES_PORT",
	"database.postgres.user":     "POSTGRES_USER",
	"database.postgres.password": "POSTGRES_PASSWORD",
	"database.postgres.dbname":   "POSTGRES_DB",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.postgres.host", "db")
	v.SetDefault("database.postgres.port", "5432")
	v.SetDefault("database.postgres.user", "user")
	v.SetDefault("database.postgres.password", "password")
	v.SetDefault("database.postgres.dbname", "vectordb")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.connect_retries", 10)
	v.SetDefault("database.postgres.retry_interval", 5*time.Second)

	v.SetDefault("database.redis.enabled", false)
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.hnsw_index", true)

	v.SetDefault("search.default_limit", 3)
	v.SetDefault("search.max_limit", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "document-import")
	v.SetDefault("kafka.group_id", "semantic-search-go-consumer")

	v.SetDefault("tika.server_url", "http://localhost:9998")

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "documents")
	v.SetDefault("elasticsearch.connect_retries", 10)
	v.SetDefault("elasticsearch.retry_interval", 5*time.Second)

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "semantic-search")

	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "http://localhost:8080/v1")
	v.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.qps", 0)
	v.SetDefault("embedding.cache_ttl", 24*time.Hour)
}

// Load 读取配置文件（可选）并叠加环境变量，返回解析后的配置。
// 配置文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("semsearch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range postgresEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查相互依赖的配置项。
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions 必须为正数, 当前为 %d", c.Embedding.Dimensions)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.default_limit (%d) 与 search.max_limit (%d) 配置无效", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	switch c.Store.Driver {
	case StorePostgres:
	case StoreElasticsearch:
		// ES 没有自增主键，文档 ID 由 Redis 序列分配
		if !c.Database.Redis.Enabled {
			return errors.New("store.driver=elasticsearch 需要启用 database.redis")
		}
	default:
		return fmt.Errorf("不支持的 store.driver: %q", c.Store.Driver)
	}
	if c.Kafka.Enabled && (!c.MinIO.Enabled || !c.Database.Redis.Enabled) {
		return errors.New("kafka 导入流程需要同时启用 minio 与 database.redis")
	}
	return nil
}

// Init 初始化配置加载，解析到全局 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
