package cache

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// Store 负责管理本地缓存记录的读写。每个方法都是一次独立事务：
// 打开底层存储、操作、在任意退出路径上释放，不跨调用持有句柄。
type Store interface {
	// Get 返回 locator 对应的缓存记录。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*Record, error)

	// Put 无条件覆盖 locator 对应的记录。
	Put(ctx context.Context, locator Locator, record Record) error

	// Remove 删除记录，记录不存在时静默成功。
	Remove(ctx context.Context, locator Locator) error

	// List 按名称升序返回命名空间内全部记录，用于检查缓存内容。
	List(ctx context.Context, namespace Namespace) ([]Item, error)

	// Clear 清空整个命名空间。
	Clear(ctx context.Context, namespace Namespace) error
}

// Namespace 区分文件与 boilerplate 两类资源，名称仅在命名空间内唯一。
type Namespace string

const (
	Files        Namespace = "files"
	Boilerplates Namespace = "boilerplates"
)

// Namespaces 列出全部命名空间，cache clear 会依次清空。
func Namespaces() []Namespace {
	return []Namespace{Files, Boilerplates}
}

// ParseNamespace 将 CLI 参数转换为 Namespace。
func ParseNamespace(raw string) (Namespace, error) {
	switch Namespace(raw) {
	case Files, Boilerplates:
		return Namespace(raw), nil
	default:
		return "", errors.NotValidf("cache namespace %q", raw)
	}
}

// Locator 唯一定位一条缓存记录（命名空间 + 资源名）。
type Locator struct {
	Namespace Namespace
	Name      string
}

func (l Locator) String() string {
	return string(l.Namespace) + "/" + l.Name
}

// Record 保存某个资源最近一次已知的远端状态。
// HasPayload 为 false 时记录仅来自元数据刷新，不能当作已解析内容返回。
type Record struct {
	Validator    string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	Payload      []byte    `json:"payload,omitempty"`
	HasPayload   bool      `json:"has_payload"`
}

// Item 是 List 的结果项。
type Item struct {
	Name   string
	Record Record
}

// ErrNotFound 表示缓存不存在，仅在 Entry 内部被吸收为“没有已知 validator”。
var ErrNotFound = errors.New("cache entry not found")

// ErrLocked 表示在超时时间内未能获得缓存事务锁。
const ErrLocked = errors.ConstError("cache is locked by another process")
