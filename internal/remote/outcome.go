package remote

import (
	"net/http"
	"strings"
	"time"
)

// Op 是单资源操作类型，决定 HTTP 方法与前置条件头。
type Op int

const (
	Read Op = iota
	Head
	Write
	Delete
)

// Method 返回 Op 对应的 HTTP 方法。
func (o Op) Method() string {
	switch o {
	case Head:
		return http.MethodHead
	case Write:
		return http.MethodPut
	case Delete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

func (o Op) String() string {
	switch o {
	case Read:
		return "read"
	case Head:
		return "head"
	case Write:
		return "write"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Request 描述一次资源请求。Validator 与 LastModified 为空时不发送对应前置条件头。
type Request struct {
	Op           Op
	Prefix       Prefix
	Name         string
	Validator    string
	LastModified time.Time
	Body         []byte
	ContentType  string
}

// Resource 返回日志与错误信息中使用的资源标识。
func (r Request) Resource() string {
	return string(r.Prefix) + "/" + r.Name
}

// Kind 是远端响应的分类结果。
type Kind int

const (
	Success Kind = iota
	NotModified
	NotFound
	BadRequest
	PreconditionFailed
	ConnectionFailure
	UnexpectedStatus
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NotModified:
		return "not_modified"
	case NotFound:
		return "not_found"
	case BadRequest:
		return "bad_request"
	case PreconditionFailed:
		return "precondition_failed"
	case ConnectionFailure:
		return "connection_failure"
	default:
		return "unexpected_status"
	}
}

// Outcome 是一次请求的唯一结果。HasBody 仅在 Read 成功时为 true。
type Outcome struct {
	Kind         Kind
	Validator    string
	LastModified time.Time
	Body         []byte
	HasBody      bool
	Status       int
	Reason       string
}

// Err 把非成功结果转换为 *Error；Success 与 NotModified 返回 nil。
func (o Outcome) Err(resource string) error {
	switch o.Kind {
	case Success, NotModified:
		return nil
	}
	return &Error{Kind: o.Kind, Resource: resource, Status: o.Status, Reason: o.Reason}
}

// classify 将状态码映射为 Outcome，未显式列出的状态码一律视为 UnexpectedStatus。
func classify(op Op, status int, header http.Header, body []byte) Outcome {
	out := Outcome{Status: status}
	switch status {
	case http.StatusBadRequest:
		out.Kind, out.Reason = BadRequest, reasonOf(body)
		return out
	case http.StatusNotFound:
		out.Kind, out.Reason = NotFound, reasonOf(body)
		return out
	case http.StatusPreconditionFailed:
		out.Kind, out.Reason = PreconditionFailed, reasonOf(body)
		return out
	}

	switch op {
	case Read, Head:
		if status == http.StatusNotModified && op == Read {
			out.Kind = NotModified
			return out
		}
		if status != http.StatusOK {
			break
		}
		validator, modified, reason := metadataOf(header)
		if reason != "" {
			out.Kind, out.Reason = UnexpectedStatus, reason
			return out
		}
		out.Kind, out.Validator, out.LastModified = Success, validator, modified
		if op == Read {
			out.Body, out.HasBody = body, true
		}
		return out
	case Write:
		if status == http.StatusOK || status == http.StatusCreated || status == http.StatusNoContent {
			out.Kind = Success
			// 写响应可能回显新的 validator，缺失时由调用方再发一次 HEAD。
			if validator, modified, reason := metadataOf(header); reason == "" {
				out.Validator, out.LastModified = validator, modified
			}
			return out
		}
	case Delete:
		if status == http.StatusOK || status == http.StatusAccepted || status == http.StatusNoContent {
			out.Kind = Success
			return out
		}
	}

	out.Kind = UnexpectedStatus
	out.Reason = http.StatusText(status)
	return out
}

// metadataOf 读取 ETag 与 Last-Modified，任一缺失或无法解析时返回原因。
func metadataOf(header http.Header) (string, time.Time, string) {
	validator := header.Get("ETag")
	if validator == "" {
		return "", time.Time{}, "response is missing ETag"
	}
	raw := header.Get("Last-Modified")
	if raw == "" {
		return "", time.Time{}, "response is missing Last-Modified"
	}
	modified, err := http.ParseTime(raw)
	if err != nil {
		return "", time.Time{}, "response has malformed Last-Modified: " + raw
	}
	return validator, modified.UTC(), ""
}

func reasonOf(body []byte) string {
	return strings.TrimSpace(string(body))
}
