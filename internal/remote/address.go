package remote

import (
	"net/url"
	"strings"
)

// Prefix 是远端资源的固定命名空间前缀。
type Prefix string

const (
	FilesPrefix        Prefix = "files"
	DirsPrefix         Prefix = "dirs"
	BoilerplatesPrefix Prefix = "boilerplates"
)

// Address 返回资源在服务端的路径：/<prefix>/<name>，name 按段做百分号编码，保留 "/" 分隔。
func Address(prefix Prefix, name string) string {
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "/" + string(prefix) + "/" + strings.Join(segments, "/")
}
