package server

import (
	"sync"

	"github.com/gofiber/fiber/v3"
)

// RecordedRequest 是 Recorder 捕获的单个请求摘要。
type RecordedRequest struct {
	Method    string
	Path      string
	RequestID string
	Header    map[string]string
}

// recordedHeaders 是测试需要断言的前置条件相关请求头。
var recordedHeaders = []string{
	fiber.HeaderIfMatch,
	fiber.HeaderIfNoneMatch,
	fiber.HeaderIfModifiedSince,
	fiber.HeaderIfUnmodifiedSince,
	fiber.HeaderContentType,
	fiber.HeaderAuthorization,
}

// Recorder 按到达顺序记录请求，供测试断言请求次数与前置条件。
type Recorder struct {
	mu       sync.Mutex
	requests []RecordedRequest
}

func (r *Recorder) record(c fiber.Ctx, requestID string) {
	header := make(map[string]string)
	for _, key := range recordedHeaders {
		if value := c.Get(key); value != "" {
			header[key] = value
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, RecordedRequest{
		Method:    c.Method(),
		Path:      string(c.Request().URI().PathOriginal()),
		RequestID: requestID,
		Header:    header,
	})
}

// Requests 返回已记录请求的副本。
func (r *Recorder) Requests() []RecordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedRequest(nil), r.requests...)
}

// Count 返回指定方法的请求数量，method 为空时统计全部。
func (r *Recorder) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if method == "" {
		return len(r.requests)
	}
	count := 0
	for _, req := range r.requests {
		if req.Method == method {
			count++
		}
	}
	return count
}

// Last 返回最近一次请求，尚无请求时 ok 为 false。
func (r *Recorder) Last() (RecordedRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return RecordedRequest{}, false
	}
	return r.requests[len(r.requests)-1], true
}

// Reset 清空记录。
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}
