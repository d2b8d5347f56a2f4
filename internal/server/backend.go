package server

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// StatusError 携带应返回给客户端的状态码与说明文本。
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func statusErrorf(code int, format string, args ...any) error {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Resource 是一次成功读取返回的内容与元数据。
type Resource struct {
	Content  []byte
	ETag     string
	Modified time.Time
}

type object struct {
	content  []byte
	etag     string
	modified time.Time
}

func (o *object) resource() Resource {
	return Resource{Content: append([]byte(nil), o.content...), ETag: o.etag, Modified: o.modified}
}

type boilerplate struct {
	object
	files map[string]string
}

// Backend 是内存中的 Cabinet 存储：文件、目录与 boilerplate。所有方法并发安全。
type Backend struct {
	mu           sync.Mutex
	now          func() time.Time
	dirs         map[string]struct{}
	files        map[string]*object
	boilerplates map[string]*boilerplate
}

// NewBackend 返回只包含根目录的空存储。
func NewBackend() *Backend {
	return &Backend{
		now:          time.Now,
		dirs:         map[string]struct{}{"": {}},
		files:        map[string]*object{},
		boilerplates: map[string]*boilerplate{},
	}
}

// SetClock 替换时间来源，测试用来控制 Last-Modified。
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// ReadFile 返回文件内容；head 与 GET 共用同一套前置条件判定。
func (b *Backend) ReadFile(name string, cond Conditions) (Resource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, err := b.fileName(name)
	if err != nil {
		return Resource{}, err
	}
	file, ok := b.files[name]
	if !ok {
		return Resource{}, statusErrorf(http.StatusNotFound, "file %s not found", name)
	}
	if code := cond.evaluate(true, file.etag, file.modified, true); code != 0 {
		return file.resource(), &StatusError{Code: code}
	}
	return file.resource(), nil
}

// WriteFile 创建或覆盖文件，缺失的父目录隐式创建。created 表示是否为新建。
func (b *Backend) WriteFile(name string, content []byte, cond Conditions) (Resource, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, err := b.fileName(name)
	if err != nil {
		return Resource{}, false, err
	}
	existing, exists := b.files[name]
	var etag string
	var modified time.Time
	if exists {
		etag, modified = existing.etag, existing.modified
	}
	if code := cond.evaluate(exists, etag, modified, false); code != 0 {
		return Resource{}, false, statusErrorf(code, "file %s has changed", name)
	}

	b.ensureParents(name)
	file := b.newObject(content)
	b.files[name] = file
	return file.resource(), !exists, nil
}

// DeleteFile 删除文件；被 boilerplate 引用时拒绝。
func (b *Backend) DeleteFile(name string, cond Conditions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, err := b.fileName(name)
	if err != nil {
		return err
	}
	file, exists := b.files[name]
	var etag string
	var modified time.Time
	if exists {
		etag, modified = file.etag, file.modified
	}
	if code := cond.evaluate(exists, etag, modified, false); code != 0 {
		return statusErrorf(code, "file %s has changed", name)
	}
	if !exists {
		return statusErrorf(http.StatusNotFound, "file %s not found", name)
	}
	if owner := b.referencedBy(name); owner != "" {
		return statusErrorf(http.StatusBadRequest, "file %s is referenced by boilerplate %s", name, owner)
	}
	delete(b.files, name)
	return nil
}

// ListDir 返回目录的直接子项，子目录以 "/" 结尾，按名称排序。
func (b *Backend) ListDir(name string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if _, isFile := b.files[name]; isFile {
		return nil, statusErrorf(http.StatusBadRequest, "%s is a file", name)
	}
	if _, ok := b.dirs[name]; !ok {
		return nil, statusErrorf(http.StatusNotFound, "directory %s not found", name)
	}

	entries := []string{}
	for dir := range b.dirs {
		if dir != "" && parentOf(dir) == name {
			entries = append(entries, path.Base(dir)+"/")
		}
	}
	for file := range b.files {
		if parentOf(file) == name {
			entries = append(entries, path.Base(file))
		}
	}
	sort.Strings(entries)
	return entries, nil
}

// MakeDir 创建目录及其父目录，目录已存在时 created 为 false。
func (b *Backend) MakeDir(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, err := cleanName(name)
	if err != nil {
		return false, err
	}
	if _, isFile := b.files[name]; isFile {
		return false, statusErrorf(http.StatusBadRequest, "%s is a file", name)
	}
	if err := b.checkParents(name); err != nil {
		return false, err
	}
	if _, ok := b.dirs[name]; ok {
		return false, nil
	}
	b.ensureParents(name)
	b.dirs[name] = struct{}{}
	return true, nil
}

// RemoveDir 递归删除目录；目录下任何文件被 boilerplate 引用时整体拒绝。
func (b *Backend) RemoveDir(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, err := cleanName(name)
	if err != nil {
		return err
	}
	if name == "" {
		return statusErrorf(http.StatusBadRequest, "the root directory cannot be deleted")
	}
	if _, isFile := b.files[name]; isFile {
		return statusErrorf(http.StatusBadRequest, "%s is a file", name)
	}
	if _, ok := b.dirs[name]; !ok {
		return statusErrorf(http.StatusNotFound, "directory %s not found", name)
	}

	prefix := name + "/"
	for file := range b.files {
		if strings.HasPrefix(file, prefix) {
			if owner := b.referencedBy(file); owner != "" {
				return statusErrorf(http.StatusBadRequest, "directory %s contains %s, referenced by boilerplate %s", name, file, owner)
			}
		}
	}
	for file := range b.files {
		if strings.HasPrefix(file, prefix) {
			delete(b.files, file)
		}
	}
	for dir := range b.dirs {
		if dir == name || strings.HasPrefix(dir, prefix) {
			delete(b.dirs, dir)
		}
	}
	return nil
}

// BoilerplateNames 返回全部 boilerplate 名称，按名称排序。
func (b *Backend) BoilerplateNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.boilerplates))
	for name := range b.boilerplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadBoilerplate 返回 boilerplate 的 JSON 表示。
func (b *Backend) ReadBoilerplate(name string, cond Conditions) (Resource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bp, ok := b.boilerplates[name]
	if !ok {
		return Resource{}, statusErrorf(http.StatusNotFound, "boilerplate %s not found", name)
	}
	if code := cond.evaluate(true, bp.etag, bp.modified, true); code != 0 {
		return bp.resource(), &StatusError{Code: code}
	}
	return bp.resource(), nil
}

// WriteBoilerplate 校验 JSON 映射（值必须是已存在文件的名称）后保存。
func (b *Backend) WriteBoilerplate(name string, body []byte, cond Conditions) (Resource, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return Resource{}, false, statusErrorf(http.StatusBadRequest, "boilerplate name is empty")
	}
	files, err := decodeMapping(body)
	if err != nil {
		return Resource{}, false, err
	}
	for _, target := range files {
		cleaned, err := cleanName(target)
		if err != nil {
			return Resource{}, false, err
		}
		if _, ok := b.files[cleaned]; !ok {
			return Resource{}, false, statusErrorf(http.StatusBadRequest, "file %s referenced by boilerplate %s does not exist", target, name)
		}
	}

	existing, exists := b.boilerplates[name]
	var etag string
	var modified time.Time
	if exists {
		etag, modified = existing.etag, existing.modified
	}
	if code := cond.evaluate(exists, etag, modified, false); code != 0 {
		return Resource{}, false, statusErrorf(code, "boilerplate %s has changed", name)
	}

	bp := &boilerplate{object: *b.newObject(body), files: files}
	b.boilerplates[name] = bp
	return bp.resource(), !exists, nil
}

// DeleteBoilerplate 删除 boilerplate，引用的文件保持不变。
func (b *Backend) DeleteBoilerplate(name string, cond Conditions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bp, exists := b.boilerplates[name]
	var etag string
	var modified time.Time
	if exists {
		etag, modified = bp.etag, bp.modified
	}
	if code := cond.evaluate(exists, etag, modified, false); code != 0 {
		return statusErrorf(code, "boilerplate %s has changed", name)
	}
	if !exists {
		return statusErrorf(http.StatusNotFound, "boilerplate %s not found", name)
	}
	delete(b.boilerplates, name)
	return nil
}

func (b *Backend) newObject(content []byte) *object {
	sum := sha1.Sum(content)
	return &object{
		content:  append([]byte(nil), content...),
		etag:     `"` + hex.EncodeToString(sum[:]) + `"`,
		modified: b.now().UTC().Truncate(time.Second),
	}
}

// fileName 规范化文件名，并拒绝指向目录或穿过文件的路径。
func (b *Backend) fileName(name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", statusErrorf(http.StatusBadRequest, "file name is empty")
	}
	if _, isDir := b.dirs[name]; isDir {
		return "", statusErrorf(http.StatusBadRequest, "%s is a directory", name)
	}
	if err := b.checkParents(name); err != nil {
		return "", err
	}
	return name, nil
}

func (b *Backend) checkParents(name string) error {
	for dir := parentOf(name); dir != ""; dir = parentOf(dir) {
		if _, isFile := b.files[dir]; isFile {
			return statusErrorf(http.StatusBadRequest, "%s is not a directory", dir)
		}
	}
	return nil
}

func (b *Backend) ensureParents(name string) {
	for dir := parentOf(name); dir != ""; dir = parentOf(dir) {
		b.dirs[dir] = struct{}{}
	}
}

func (b *Backend) referencedBy(file string) string {
	owners := make([]string, 0)
	for name, bp := range b.boilerplates {
		for _, target := range bp.files {
			if cleaned, err := cleanName(target); err == nil && cleaned == file {
				owners = append(owners, name)
				break
			}
		}
	}
	if len(owners) == 0 {
		return ""
	}
	sort.Strings(owners)
	return owners[0]
}

// decodeMapping 要求请求体是值全为字符串的 JSON 对象。
func decodeMapping(body []byte) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, statusErrorf(http.StatusBadRequest, "boilerplate must be a JSON object")
	}
	files := make(map[string]string, len(raw))
	for key, value := range raw {
		str, ok := value.(string)
		if !ok {
			return nil, statusErrorf(http.StatusBadRequest, "boilerplate entry %s must be a string", key)
		}
		files[key] = str
	}
	return files, nil
}

// cleanName 去掉首尾 "/"，拒绝空段、"." 与 ".."。
func cleanName(name string) (string, error) {
	name = strings.Trim(name, "/")
	if name == "" {
		return "", nil
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", statusErrorf(http.StatusBadRequest, "invalid resource name %s", name)
		}
	}
	return name, nil
}

func parentOf(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return ""
	}
	return name[:idx]
}
