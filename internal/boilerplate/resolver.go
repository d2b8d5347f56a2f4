package boilerplate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/commode/commode/internal/entry"
)

// Target 是一个解析后的安装目标。
type Target struct {
	Pattern string
	Local   string
	Remote  string
}

// MissingVariableError 表示路径模板引用了环境中不存在的变量。
type MissingVariableError struct {
	Pattern  string
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("environment variable %s used in %q is not set", e.Variable, e.Pattern)
}

// PlaceholderError 表示路径模板中存在无法识别的 "$" 占位符。
type PlaceholderError struct {
	Pattern string
	Offset  int
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("invalid placeholder in %q at offset %d", e.Pattern, e.Offset)
}

// DuplicateTargetError 表示两个路径模板解析到了同一个本地文件。
type DuplicateTargetError struct {
	Local    string
	Patterns [2]string
}

func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("patterns %q and %q both resolve to %s", e.Patterns[0], e.Patterns[1], e.Local)
}

// Resolve 对每个客户端路径做变量替换，返回按本地路径排序的目标。
// 支持 $NAME、${NAME} 以及 $$ 转义；NAME 由字母、数字、下划线组成且不以数字开头。
// 模板按字典序处理，多个模板出错时总是报告第一个。
func Resolve(env map[string]string, files entry.Mapping) ([]Target, error) {
	patterns := make([]string, 0, len(files))
	for pattern := range files {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)

	targets := make([]Target, 0, len(files))
	for _, pattern := range patterns {
		local, err := substitute(pattern, env)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{Pattern: pattern, Local: local, Remote: files[pattern]})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Local < targets[j].Local
	})
	if err := checkDistinct(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// checkDistinct 拒绝清理后指向同一路径的目标，targets 中的 Local 可以是相对或绝对路径。
func checkDistinct(targets []Target) error {
	seen := make(map[string]string, len(targets))
	for _, target := range targets {
		local := filepath.Clean(target.Local)
		if pattern, ok := seen[local]; ok {
			return &DuplicateTargetError{Local: local, Patterns: [2]string{pattern, target.Pattern}}
		}
		seen[local] = target.Pattern
	}
	return nil
}

// EnvFromOS 返回当前进程环境变量的快照。
func EnvFromOS() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	return env
}

func substitute(pattern string, env map[string]string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(pattern) {
			return "", &PlaceholderError{Pattern: pattern, Offset: i}
		}

		next := pattern[i+1]
		var name string
		var end int
		switch {
		case next == '$':
			out.WriteByte('$')
			i += 2
			continue
		case next == '{':
			closing := strings.IndexByte(pattern[i+2:], '}')
			if closing < 0 {
				return "", &PlaceholderError{Pattern: pattern, Offset: i}
			}
			name = pattern[i+2 : i+2+closing]
			end = i + 2 + closing + 1
			if !validIdentifier(name) {
				return "", &PlaceholderError{Pattern: pattern, Offset: i}
			}
		case identStart(next):
			j := i + 2
			for j < len(pattern) && identPart(pattern[j]) {
				j++
			}
			name = pattern[i+1 : j]
			end = j
		default:
			return "", &PlaceholderError{Pattern: pattern, Offset: i}
		}

		value, ok := env[name]
		if !ok {
			return "", &MissingVariableError{Pattern: pattern, Variable: name}
		}
		out.WriteString(value)
		i = end
	}
	return out.String(), nil
}

func validIdentifier(name string) bool {
	if name == "" || !identStart(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !identPart(name[i]) {
			return false
		}
	}
	return true
}

func identStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func identPart(c byte) bool {
	return identStart(c) || (c >= '0' && c <= '9')
}
