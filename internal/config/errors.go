package config

import (
	"fmt"

	"github.com/juju/errors"
)

// FieldError 指出 INI 中出错的段与键，Error() 直接面向 CLI 用户。
type FieldError struct {
	Section string
	Key     string
	Reason  string
}

// Field 返回 server.address 形式的字段路径。
func (e FieldError) Field() string {
	return e.Section + "." + e.Key
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field(), e.Reason)
}

// Is 使配置错误可以用 errors.Is(err, errors.NotValid) 统一识别。
func (e FieldError) Is(target error) bool {
	return target == errors.NotValid
}

func invalidField(section, key, reason string) error {
	return FieldError{Section: section, Key: key, Reason: reason}
}
