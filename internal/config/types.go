package config

import (
	"fmt"
	"net/url"
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

// String 以 Go Duration 语法输出，写回配置文件时保持可读。
func (d Duration) String() string {
	return time.Duration(d).String()
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// ServerConfig 描述 Cabinet 服务端地址与凭证，对应 INI 的 [server] 段。
type ServerConfig struct {
	Address  string   `mapstructure:"address"`
	Scheme   string   `mapstructure:"scheme"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
	Timeout  Duration `mapstructure:"timeout"`
}

// CacheConfig 控制本地缓存文件位置以及事务锁等待时长。
type CacheConfig struct {
	Dir         string   `mapstructure:"dir"`
	LockTimeout Duration `mapstructure:"lock_timeout"`
}

// LogConfig 决定日志级别、格式以及可选的滚动文件输出。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Config 是 INI 配置文件映射的整体结构。
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Log    LogConfig    `mapstructure:"log"`
}

// Configured 表示是否已经设置服务端地址。
func (s ServerConfig) Configured() bool {
	return strings.TrimSpace(s.Address) != ""
}

// HasCredentials 表示是否配置了完整的账号密码。
func (s ServerConfig) HasCredentials() bool {
	return s.User != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s ServerConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// BaseURL 拼接 scheme 与 address，得到所有请求共享的根地址。
func (s ServerConfig) BaseURL() string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: s.Address}).String()
}

// ParseServerAddress 将 `https://host:port` 拆分为 address 与 scheme，缺省 scheme 为 https。
func ParseServerAddress(raw string) (address, scheme string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", invalidField("server", "address", "不能为空")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("解析服务端地址失败: %w", err)
	}
	if parsed.Host == "" {
		return "", "", invalidField("server", "address", "缺少 Host")
	}
	return parsed.Host, parsed.Scheme, nil
}
