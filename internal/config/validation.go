package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

var supportedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
}

var supportedFormats = map[string]struct{}{
	"text": {},
	"json": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置进入命令执行阶段。
// 未配置服务端地址不视为错误：config/cache 等命令无需访问服务端。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	s := c.Server
	if strings.Contains(s.Address, "/") || strings.Contains(s.Address, " ") {
		return invalidField("server", "address", "只允许 host[:port]")
	}
	scheme := strings.ToLower(strings.TrimSpace(s.Scheme))
	if _, ok := supportedSchemes[scheme]; !ok {
		return invalidField("server", "scheme", "仅支持 http/https")
	}
	c.Server.Scheme = scheme
	if s.Timeout.DurationValue() <= 0 {
		return invalidField("server", "timeout", "必须大于 0")
	}
	if (s.User == "") != (s.Password == "") {
		return invalidField("server", "user/password", "必须同时提供或同时留空")
	}

	if strings.TrimSpace(c.Cache.Dir) == "" {
		return invalidField("cache", "dir", "不能为空")
	}
	if c.Cache.LockTimeout.DurationValue() <= 0 {
		return invalidField("cache", "lock_timeout", "必须大于 0")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return invalidField("log", "level", err.Error())
	}
	format := strings.ToLower(strings.TrimSpace(c.Log.Format))
	if _, ok := supportedFormats[format]; !ok {
		return invalidField("log", "format", "仅支持 text/json")
	}
	c.Log.Format = format
	if c.Log.MaxSize < 0 || c.Log.MaxBackups < 0 {
		return invalidField("log", "max_size/max_backups", "不能为负数")
	}

	return nil
}

// RequireServer 在需要访问服务端的命令前调用，确保地址已配置。
func (c *Config) RequireServer() error {
	if c == nil || !c.Server.Configured() {
		return invalidField("server", "address", "未配置，请执行 `commode config --server-address <addr>`")
	}
	return nil
}
