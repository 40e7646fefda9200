package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 凭证模式，与浏览器 fetch 的 credentials 选项保持同名。
const (
	CredentialsOmit       = "omit"
	CredentialsSameOrigin = "same-origin"
	CredentialsInclude    = "include"
)

// 缓存存储后端。
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// DefaultCacheName 是打包应用使用的缓存名称。
const DefaultCacheName = "flutter-app-cache"

// GlobalConfig 描述进程级运行参数：监听端口、日志与存储目录。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// OriginConfig 指向托管应用静态资源的源站。
type OriginConfig struct {
	URL         string `mapstructure:"URL"`
	Proxy       string `mapstructure:"Proxy"`
	Credentials string `mapstructure:"Credentials"`
}

// CacheConfig 控制缓存名称、后端以及激活行为。
type CacheConfig struct {
	Name                string `mapstructure:"Name"`
	Backend             string `mapstructure:"Backend"`
	ResourceTable       string `mapstructure:"ResourceTable"`
	PopulateConcurrency int    `mapstructure:"PopulateConcurrency"`
	PurgeForeign        bool   `mapstructure:"PurgeForeign"`
	ActivateOnStart     bool   `mapstructure:"ActivateOnStart"`
}

// DiagnosticsConfig 控制诊断接口。ActivateToken 为空时不注册 POST /-/activate。
type DiagnosticsConfig struct {
	ActivateToken string `mapstructure:"ActivateToken"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global      GlobalConfig      `mapstructure:",squash"`
	Origin      OriginConfig      `mapstructure:"Origin"`
	Cache       CacheConfig       `mapstructure:"Cache"`
	Diagnostics DiagnosticsConfig `mapstructure:"Diagnostics"`
}

// HasProxy 表示是否需要经由 HTTP 代理访问源站。
func (o OriginConfig) HasProxy() bool {
	return strings.TrimSpace(o.Proxy) != ""
}

// ActivateEnabled 表示是否对外暴露手动 activate 接口。
func (d DiagnosticsConfig) ActivateEnabled() bool {
	return strings.TrimSpace(d.ActivateToken) != ""
}

// Summary 输出 name@backend 形式的缓存描述，供启动日志使用。
func (c CacheConfig) Summary() string {
	return fmt.Sprintf("%s@%s", c.Name, c.Backend)
}
