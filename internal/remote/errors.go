package remote

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrPreconditionFailed 表示服务端的 validator 已与客户端持有的不一致。
	ErrPreconditionFailed = errors.ConstError("precondition failed")
	// ErrConnectionFailure 表示请求未能得到任何 HTTP 响应。
	ErrConnectionFailure = errors.ConstError("server connection error")
	// ErrUnexpectedStatus 表示服务端违反协议，返回了未分类的状态码或缺失元数据。
	ErrUnexpectedStatus = errors.ConstError("unexpected server response")
)

// Error 是非成功 Outcome 的错误形式，可通过 errors.Is 与 juju 的
// errors.NotFound / errors.BadRequest 或本包的哨兵错误比较。
type Error struct {
	Kind     Kind
	Resource string
	Status   int
	Reason   string
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotFound:
		return withReason(fmt.Sprintf("%s not found", e.Resource), e.Reason)
	case BadRequest:
		return withReason(fmt.Sprintf("bad request for %s", e.Resource), e.Reason)
	case PreconditionFailed:
		return withReason(fmt.Sprintf("precondition failed for %s", e.Resource), e.Reason)
	case ConnectionFailure:
		return withReason(string(ErrConnectionFailure), e.Reason)
	default:
		return withReason(fmt.Sprintf("unexpected server response %d for %s", e.Status, e.Resource), e.Reason)
	}
}

// Is 让 errors.Is 按 Kind 匹配对应的哨兵错误。
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case NotFound:
		return target == errors.NotFound
	case BadRequest:
		return target == errors.BadRequest
	case PreconditionFailed:
		return target == ErrPreconditionFailed
	case ConnectionFailure:
		return target == ErrConnectionFailure
	case UnexpectedStatus:
		return target == ErrUnexpectedStatus
	}
	return false
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + ": " + reason
}
