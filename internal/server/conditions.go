package server

import (
	"net/http"
	"strings"
	"time"
)

// Conditions 汇总请求携带的前置条件头，零值表示无条件请求。
type Conditions struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
}

// evaluate 按 RFC 9110 §13.2.2 的顺序判定前置条件，返回 0、304 或 412。
// safe 表示 GET/HEAD，只有安全方法才会得到 304。
func (c Conditions) evaluate(exists bool, etag string, modified time.Time, safe bool) int {
	if c.IfMatch != "" {
		if !exists || !matchTags(c.IfMatch, etag, true) {
			return http.StatusPreconditionFailed
		}
	} else if !c.IfUnmodifiedSince.IsZero() && exists && modified.After(c.IfUnmodifiedSince) {
		return http.StatusPreconditionFailed
	}

	if c.IfNoneMatch != "" {
		if exists && matchTags(c.IfNoneMatch, etag, false) {
			if safe {
				return http.StatusNotModified
			}
			return http.StatusPreconditionFailed
		}
	} else if safe && !c.IfModifiedSince.IsZero() && exists && !modified.After(c.IfModifiedSince) {
		return http.StatusNotModified
	}
	return 0
}

// matchTags 判断逗号分隔的 entity-tag 列表是否包含 current。strong 为 true 时弱标签不参与匹配。
func matchTags(list, current string, strong bool) bool {
	for _, raw := range strings.Split(list, ",") {
		tag := strings.TrimSpace(raw)
		if tag == "*" {
			return true
		}
		if strings.HasPrefix(tag, "W/") {
			if strong {
				continue
			}
			tag = strings.TrimPrefix(tag, "W/")
		}
		if tag == current {
			return true
		}
	}
	return false
}

// parseHTTPTime 解析 HTTP 日期，无法解析时按 RFC 要求忽略该条件。
func parseHTTPTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	parsed, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}
