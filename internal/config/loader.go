package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 允许通过环境变量覆盖默认配置路径。
const EnvConfigPath = "COMMODE_CONFIG"

// DefaultPath 返回 `$XDG_CONFIG_HOME/commode/config.ini`，无法定位时退回当前目录。
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.ini"
	}
	return filepath.Join(dir, "commode", "config.ini")
}

// DefaultCacheDir 返回 `$XDG_CACHE_HOME/commode`。
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".cache", "commode")
	}
	return filepath.Join(dir, "commode")
}

// Load 读取并解析 INI 配置文件，同时注入默认值与校验逻辑。文件不存在时仅使用默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := newViper(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Cache.Dir = absCache

	return &cfg, nil
}

// Save 将配置写回 INI 文件，并收紧权限为 0600，因为密码以明文保存。
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("配置为空")
	}
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	v := newViper(path)
	v.SetConfigPermissions(0o600)
	v.Set("server.address", cfg.Server.Address)
	v.Set("server.scheme", cfg.Server.Scheme)
	v.Set("server.user", cfg.Server.User)
	v.Set("server.password", cfg.Server.Password)
	v.Set("server.timeout", cfg.Server.Timeout.String())
	v.Set("cache.dir", cfg.Cache.Dir)
	v.Set("cache.lock_timeout", cfg.Cache.LockTimeout.String())
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("log.file", cfg.Log.FilePath)
	v.Set("log.max_size", cfg.Log.MaxSize)
	v.Set("log.max_backups", cfg.Log.MaxBackups)
	v.Set("log.compress", cfg.Log.Compress)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("写入配置失败: %w", err)
	}
	// WriteConfigAs 不会修改已存在文件的权限。
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("设置配置权限失败: %w", err)
	}
	return nil
}

// PermissionWarning 在配置文件可被同组或其他用户读取时返回提示文本。
func PermissionWarning(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if info.Mode().Perm()&0o044 != 0 {
		return fmt.Sprintf("config file (%s) is readable by group and others", path)
	}
	return ""
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.scheme", "https")
	v.SetDefault("server.user", "")
	v.SetDefault("server.password", "")
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("cache.dir", DefaultCacheDir())
	v.SetDefault("cache.lock_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.compress", true)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Scheme == "" {
		cfg.Server.Scheme = "https"
	}
	if cfg.Server.Timeout.DurationValue() == 0 {
		cfg.Server.Timeout = Duration(30 * time.Second)
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir()
	}
	if cfg.Cache.LockTimeout.DurationValue() == 0 {
		cfg.Cache.LockTimeout = Duration(10 * time.Second)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
