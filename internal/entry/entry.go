package entry

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/commode/commode/internal/cache"
	"github.com/commode/commode/internal/logging"
	"github.com/commode/commode/internal/remote"
)

// ErrInconsistentCache 表示服务端确认缓存有效，但本地并没有可返回的载荷。
const ErrInconsistentCache = errors.ConstError("server reported not modified but no payload is cached")

// Remote 是 Entry 对远端的唯一依赖，*remote.Session 满足该接口。
type Remote interface {
	Do(ctx context.Context, req remote.Request) remote.Outcome
}

// Deps 汇总 Entry 所需的协作者，由 CLI 每次命令构建一次。
type Deps struct {
	Store  cache.Store
	Remote Remote
	Logger *logrus.Logger
}

// Kind 描述一类资源：缓存命名空间、远端前缀以及面向用户的称呼。
type Kind struct {
	Namespace cache.Namespace
	Prefix    remote.Prefix
	Label     string
}

var (
	FileKind        = Kind{Namespace: cache.Files, Prefix: remote.FilesPrefix, Label: "file"}
	BoilerplateKind = Kind{Namespace: cache.Boilerplates, Prefix: remote.BoilerplatesPrefix, Label: "boilerplate"}
)

// Entry 是单个远端资源的同步状态机。每次操作都重新读取缓存，不在内存中保留记录。
// Entry 不可并发使用。
type Entry[P any] struct {
	deps  Deps
	kind  Kind
	name  string
	codec Codec[P]
	state State
}

// New 构建任意载荷类型的 Entry。
func New[P any](deps Deps, kind Kind, name string, codec Codec[P]) *Entry[P] {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Entry[P]{deps: deps, kind: kind, name: name, codec: codec}
}

// NewFile 返回文件资源的 Entry。
func NewFile(deps Deps, name string) *Entry[Text] {
	return New[Text](deps, FileKind, name, TextCodec{})
}

// NewBoilerplate 返回 boilerplate 资源的 Entry。
func NewBoilerplate(deps Deps, name string) *Entry[Mapping] {
	return New[Mapping](deps, BoilerplateKind, name, MappingCodec{})
}

// Name 返回资源名。
func (e *Entry[P]) Name() string {
	return e.name
}

// State 返回最近一次操作结束时的状态。
func (e *Entry[P]) State() State {
	return e.state
}

// Metadata 是 Stat 的结果。Stale 表示缓存中的载荷已落后于服务端。
type Metadata struct {
	Validator    string
	LastModified time.Time
	Cached       bool
	Stale        bool
}

// Read 返回资源内容：缓存中有载荷时发送条件请求，304 直接返回缓存，200 覆盖缓存后返回新内容。
func (e *Entry[P]) Read(ctx context.Context) (P, error) {
	var zero P
	record, err := e.begin(ctx)
	if err != nil {
		return zero, e.abort(err)
	}

	req := e.request(remote.Read)
	if record != nil && record.HasPayload {
		req.Validator, req.LastModified = record.Validator, record.LastModified
	}
	out := e.consult(ctx, req)

	switch out.Kind {
	case remote.NotModified:
		if record == nil || !record.HasPayload {
			return zero, e.abort(errors.Annotatef(ErrInconsistentCache, "%s %s", e.kind.Label, e.name))
		}
		payload, err := e.codec.Decode(record.Payload)
		if err != nil {
			return zero, e.abort(errors.Annotatef(err, "decode cached %s %s", e.kind.Label, e.name))
		}
		e.resolve("cache confirmed fresh")
		return payload, nil
	case remote.Success:
		payload, err := e.codec.Decode(out.Body)
		if err != nil {
			return zero, e.abort(errors.Annotatef(err, "decode %s %s", e.kind.Label, e.name))
		}
		if err := e.store(ctx, out.Validator, out.LastModified, out.Body); err != nil {
			return zero, e.abort(err)
		}
		e.resolve("fetched")
		return payload, nil
	default:
		return zero, e.abort(out.Err(e.resource()))
	}
}

// Write 以缓存中的 validator 作为 If-Match 上传载荷。冲突时不重试、不合并，缓存保持不变。
func (e *Entry[P]) Write(ctx context.Context, payload P) error {
	body, err := e.codec.Encode(payload)
	if err != nil {
		e.state = Aborted
		return errors.Annotatef(err, "encode %s %s", e.kind.Label, e.name)
	}
	record, err := e.begin(ctx)
	if err != nil {
		return e.abort(err)
	}

	req := e.request(remote.Write)
	req.Body, req.ContentType = body, e.codec.ContentType()
	applyMatch(&req, record)
	out := e.consult(ctx, req)

	switch out.Kind {
	case remote.Success:
		validator, modified := out.Validator, out.LastModified
		if validator == "" {
			head := e.deps.Remote.Do(ctx, e.request(remote.Head))
			if head.Kind != remote.Success {
				return e.abort(errors.Annotatef(head.Err(e.resource()), "refresh metadata after writing %s %s", e.kind.Label, e.name))
			}
			validator, modified = head.Validator, head.LastModified
		}
		if err := e.store(ctx, validator, modified, body); err != nil {
			return e.abort(err)
		}
		e.resolve("written")
		return nil
	case remote.PreconditionFailed:
		return e.abort(&ConflictError{Label: e.kind.Label, Name: e.name, Err: out.Err(e.resource())})
	default:
		return e.abort(out.Err(e.resource()))
	}
}

// Delete 以相同的前置条件删除远端资源，成功后移除缓存记录。
func (e *Entry[P]) Delete(ctx context.Context) error {
	record, err := e.begin(ctx)
	if err != nil {
		return e.abort(err)
	}

	req := e.request(remote.Delete)
	applyMatch(&req, record)
	out := e.consult(ctx, req)

	switch out.Kind {
	case remote.Success:
		if err := e.deps.Store.Remove(ctx, e.locator()); err != nil {
			return e.abort(errors.Annotatef(err, "evict %s %s", e.kind.Label, e.name))
		}
		e.resolve("deleted")
		return nil
	case remote.PreconditionFailed:
		return e.abort(&ConflictError{Label: e.kind.Label, Name: e.name, Err: out.Err(e.resource())})
	default:
		return e.abort(out.Err(e.resource()))
	}
}

// Stat 只请求元数据。缓存为空或只有元数据时写入一条无载荷记录，已有载荷的记录不会被替换。
func (e *Entry[P]) Stat(ctx context.Context) (Metadata, error) {
	record, err := e.begin(ctx)
	if err != nil {
		return Metadata{}, e.abort(err)
	}

	out := e.consult(ctx, e.request(remote.Head))
	if out.Kind != remote.Success {
		return Metadata{}, e.abort(out.Err(e.resource()))
	}

	meta := Metadata{Validator: out.Validator, LastModified: out.LastModified}
	if record != nil && record.HasPayload {
		meta.Cached = true
		meta.Stale = record.Validator != out.Validator
	} else if err := e.deps.Store.Put(ctx, e.locator(), cache.Record{
		Validator:    out.Validator,
		LastModified: out.LastModified,
	}); err != nil {
		return Metadata{}, e.abort(errors.Annotatef(err, "cache metadata for %s %s", e.kind.Label, e.name))
	}
	e.resolve("metadata refreshed")
	return meta, nil
}

// begin 重置状态并读取缓存记录；缓存未命中被吸收为 nil 记录。
func (e *Entry[P]) begin(ctx context.Context) (*cache.Record, error) {
	e.state = Unresolved
	record, err := e.deps.Store.Get(ctx, e.locator())
	switch {
	case errors.Is(err, cache.ErrNotFound):
		record = nil
	case err != nil:
		return nil, errors.Annotatef(err, "read cache for %s %s", e.kind.Label, e.name)
	}
	e.transition(CacheConsulted, logrus.Fields{"cached": record != nil})
	return record, nil
}

func (e *Entry[P]) consult(ctx context.Context, req remote.Request) remote.Outcome {
	out := e.deps.Remote.Do(ctx, req)
	e.transition(RemoteConsulted, logrus.Fields{
		"op":          req.Op.String(),
		"conditional": req.Validator != "" || !req.LastModified.IsZero(),
		"outcome":     out.Kind.String(),
	})
	return out
}

func (e *Entry[P]) store(ctx context.Context, validator string, modified time.Time, payload []byte) error {
	err := e.deps.Store.Put(ctx, e.locator(), cache.Record{
		Validator:    validator,
		LastModified: modified,
		Payload:      payload,
		HasPayload:   true,
	})
	return errors.Annotatef(err, "cache %s %s", e.kind.Label, e.name)
}

func (e *Entry[P]) resolve(reason string) {
	e.transition(Resolved, logrus.Fields{"reason": reason})
}

func (e *Entry[P]) abort(err error) error {
	e.transition(Aborted, logrus.Fields{"error": err.Error()})
	return err
}

func (e *Entry[P]) transition(next State, fields logrus.Fields) {
	from := e.state
	e.state = next
	e.deps.Logger.
		WithFields(logging.ResourceFields(string(e.kind.Namespace), e.name)).
		WithFields(fields).
		WithFields(logrus.Fields{"action": "entry_transition", "from": from.String(), "to": next.String()}).
		Trace("entry state changed")
}

func (e *Entry[P]) request(op remote.Op) remote.Request {
	return remote.Request{Op: op, Prefix: e.kind.Prefix, Name: e.name}
}

func (e *Entry[P]) locator() cache.Locator {
	return cache.Locator{Namespace: e.kind.Namespace, Name: e.name}
}

func (e *Entry[P]) resource() string {
	return fmt.Sprintf("%s %s", e.kind.Label, e.name)
}

func applyMatch(req *remote.Request, record *cache.Record) {
	if record == nil {
		return
	}
	req.Validator, req.LastModified = record.Validator, record.LastModified
}
