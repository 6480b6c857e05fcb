package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Pricing PricingConfig `mapstructure:"pricing"`
	Tenants TenantsConfig `mapstructure:"tenants"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// StorageConfig 数据存储配置
type StorageConfig struct {
	DataRoot      string `mapstructure:"data_root"`      // 队列/用量/审计文件根目录，默认 ./data
	WorkspaceRoot string `mapstructure:"workspace_root"` // 租户工作区根目录（存储用量统计基准）
}

// AuditConfig 审计日志生命周期配置
type AuditConfig struct {
	CompressAfterDays     int `mapstructure:"compress_after_days"`     // 超过该天数的日志压缩，默认 30
	DeleteAfterDays       int `mapstructure:"delete_after_days"`       // 超过该天数的日志删除，默认 90
	RotateIntervalMinutes int `mapstructure:"rotate_interval_minutes"` // 后台轮转间隔，默认 60
}

// TierLimits 套餐限额
type TierLimits struct {
	MonthlyCostLimit  float64 `mapstructure:"monthly_cost_limit"`  // 每月成本上限（美元）
	MonthlyTokenLimit int64   `mapstructure:"monthly_token_limit"` // 每月 Token 上限
	StorageLimitBytes int64   `mapstructure:"storage_limit_bytes"` // 工作区存储上限（字节）
}

// QuotaConfig 配额配置
type QuotaConfig struct {
	DefaultTier string                `mapstructure:"default_tier"` // 未指定套餐时的默认套餐
	Tiers       map[string]TierLimits `mapstructure:"tiers"`        // 套餐名 -> 限额
	TenantTiers map[string]string     `mapstructure:"tenant_tiers"` // 租户ID -> 套餐名
}

// ModelPrice 模型单价（每百万 Token）
type ModelPrice struct {
	InputPerMillion  float64 `mapstructure:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million"`
}

// PricingConfig 模型定价表
type PricingConfig struct {
	Models map[string]ModelPrice `mapstructure:"models"` // 模型名 -> 单价，需包含 default 行
}

// TenantEntry 单个租户的目录配置
type TenantEntry struct {
	Agents []string `mapstructure:"agents"` // 该租户拥有的智能体 ID 列表
}

// TenantsConfig 租户目录配置
type TenantsConfig struct {
	Entries map[string]TenantEntry `mapstructure:"entries"` // 租户ID -> 智能体集合
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_SERVER_PORT

	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults 设置各配置项默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("storage.data_root", "./data")
	v.SetDefault("storage.workspace_root", "./workspace")

	v.SetDefault("audit.compress_after_days", 30)
	v.SetDefault("audit.delete_after_days", 90)
	v.SetDefault("audit.rotate_interval_minutes", 60)

	v.SetDefault("quota.default_tier", "free")
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}
