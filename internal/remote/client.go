package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/commode/commode/internal/config"
	"github.com/commode/commode/internal/logging"
)

// RequestIDHeader 在客户端与开发服务端之间传递请求 ID。
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes 限制单次响应读取的大小，超出时整个响应作废，不会截断后当作成功。
var maxBodyBytes int64 = 64 << 20

// baseTransport 是每个 Session 克隆的模板，集中配置超时。
var baseTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          16,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options 描述构建 Client 所需的连接参数。
type Options struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration
	Logger   *logrus.Logger

	// Transport 非空时替代默认连接池，开发服务端与测试通过它直接调用 fiber 应用。
	Transport http.RoundTripper
}

// OptionsFromConfig 从 [server] 配置段构建 Options。
func OptionsFromConfig(cfg config.ServerConfig, logger *logrus.Logger) Options {
	return Options{
		BaseURL:  cfg.BaseURL(),
		User:     cfg.User,
		Password: cfg.Password,
		Timeout:  cfg.Timeout.DurationValue(),
		Logger:   logger,
	}
}

// Client 保存不可变的连接配置，通过 Open 获得实际发请求的 Session。
type Client struct {
	baseURL   string
	user      string
	password  string
	timeout   time.Duration
	logger    *logrus.Logger
	transport http.RoundTripper
}

// NewClient 校验 BaseURL 并返回 Client。
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" || !strings.Contains(base, "://") {
		return nil, errors.NotValidf("server base URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL:   base,
		user:      opts.User,
		password:  opts.Password,
		timeout:   timeout,
		logger:    logger,
		transport: opts.Transport,
	}, nil
}

// BaseURL 返回规范化后的服务端根地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Open 创建一个独立的 Session，调用方负责在所有退出路径上 Close。
func (c *Client) Open() *Session {
	var transport http.RoundTripper = baseTransport.Clone()
	if c.transport != nil {
		transport = c.transport
	}
	return &Session{
		client:    c,
		transport: transport,
		http: &http.Client{
			Timeout:   c.timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Session 是一次命令期间复用的连接作用域，不可并发使用。
type Session struct {
	client    *Client
	transport http.RoundTripper
	http      *http.Client
	closed    bool
}

// Close 释放空闲连接，重复调用是安全的。
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if idle, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		idle.CloseIdleConnections()
	}
	return nil
}

// Do 发送一次资源请求，并将响应归类为唯一的 Outcome。
func (s *Session) Do(ctx context.Context, req Request) Outcome {
	header := http.Header{}
	switch req.Op {
	case Read:
		setCondition(header, "If-None-Match", "If-Modified-Since", req.Validator, req.LastModified)
	case Write, Delete:
		setCondition(header, "If-Match", "If-Unmodified-Since", req.Validator, req.LastModified)
	}
	if req.Op == Write && req.ContentType != "" {
		header.Set("Content-Type", req.ContentType)
	}

	var body []byte
	if req.Op == Write {
		body = req.Body
		if body == nil {
			body = []byte{}
		}
	}

	resp, err := s.exchange(ctx, req.Op.Method(), Address(req.Prefix, req.Name), header, body)
	if err != nil {
		return Outcome{Kind: ConnectionFailure, Reason: err.Error()}
	}
	out := classify(req.Op, resp.status, resp.header, resp.body)
	s.client.logger.WithFields(logrus.Fields{
		"action":   "remote_outcome",
		"op":       req.Op.String(),
		"resource": req.Resource(),
		"status":   resp.status,
		"outcome":  out.Kind.String(),
	}).Trace("remote outcome")
	return out
}

// ListDir 返回目录下的条目名称，子目录以 "/" 结尾。
func (s *Session) ListDir(ctx context.Context, name string) ([]string, error) {
	resp, err := s.plain(ctx, http.MethodGet, DirsPrefix, name)
	if err != nil {
		return nil, err
	}
	var entries []string
	if err := json.Unmarshal(resp.body, &entries); err != nil {
		return nil, errors.Annotatef(ErrUnexpectedStatus, "directory listing for %s is not a JSON array of strings", name)
	}
	return entries, nil
}

// MakeDir 创建目录，缺失的父目录由服务端隐式创建。
func (s *Session) MakeDir(ctx context.Context, name string) error {
	_, err := s.plain(ctx, http.MethodPut, DirsPrefix, name)
	return err
}

// RemoveDir 递归删除目录；被 boilerplate 引用时服务端返回 400。
func (s *Session) RemoveDir(ctx context.Context, name string) error {
	_, err := s.plain(ctx, http.MethodDelete, DirsPrefix, name)
	return err
}

// ListBoilerplates 返回服务端全部 boilerplate 名称。
func (s *Session) ListBoilerplates(ctx context.Context) ([]string, error) {
	resp, err := s.exchange(ctx, http.MethodGet, "/"+string(BoilerplatesPrefix), http.Header{}, nil)
	if err != nil {
		return nil, &Error{Kind: ConnectionFailure, Reason: err.Error()}
	}
	if resp.status != http.StatusOK {
		return nil, &Error{Kind: UnexpectedStatus, Resource: string(BoilerplatesPrefix), Status: resp.status, Reason: reasonOf(resp.body)}
	}
	var names []string
	if err := json.Unmarshal(resp.body, &names); err != nil {
		return nil, errors.Annotate(ErrUnexpectedStatus, "boilerplate listing is not a JSON array of strings")
	}
	return names, nil
}

// plain 处理不经过缓存的目录请求，400/404 映射为对应错误，其余非 2xx 视为协议违例。
func (s *Session) plain(ctx context.Context, method string, prefix Prefix, name string) (*response, error) {
	resource := string(prefix) + "/" + name
	var body []byte
	if method == http.MethodPut {
		body = []byte{}
	}
	resp, err := s.exchange(ctx, method, Address(prefix, name), http.Header{}, body)
	if err != nil {
		return nil, &Error{Kind: ConnectionFailure, Resource: resource, Reason: err.Error()}
	}
	switch {
	case resp.status >= 200 && resp.status < 300:
		return resp, nil
	case resp.status == http.StatusBadRequest:
		return nil, &Error{Kind: BadRequest, Resource: resource, Status: resp.status, Reason: reasonOf(resp.body)}
	case resp.status == http.StatusNotFound:
		return nil, &Error{Kind: NotFound, Resource: resource, Status: resp.status, Reason: reasonOf(resp.body)}
	default:
		return nil, &Error{Kind: UnexpectedStatus, Resource: resource, Status: resp.status, Reason: reasonOf(resp.body)}
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// exchange 执行一次 HTTP 往返并完整读取响应体。body 为 nil 时不发送请求体。
func (s *Session) exchange(ctx context.Context, method, path string, header http.Header, body []byte) (*response, error) {
	if s.closed {
		return nil, errors.New("session is closed")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.client.baseURL+path, reader)
	if err != nil {
		return nil, errors.Annotate(err, "build request")
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	if s.client.user != "" {
		req.SetBasicAuth(s.client.user, s.client.password)
	}

	logger := s.client.logger.WithFields(logging.RequestFields(method, path, requestID))
	logger.Debug("remote request")

	resp, err := s.http.Do(req)
	if err != nil {
		logger.WithError(err).Debug("remote request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > maxBodyBytes {
		return nil, errors.Errorf("response exceeds %d bytes", maxBodyBytes)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.Annotate(err, "read response body")
	}
	if int64(len(payload)) > maxBodyBytes {
		logger.WithField("status", resp.StatusCode).Debug("remote response too large")
		return nil, errors.Errorf("response exceeds %d bytes", maxBodyBytes)
	}
	logger.WithField("status", resp.StatusCode).Debug("remote response")
	return &response{status: resp.StatusCode, header: resp.Header, body: payload}, nil
}

func setCondition(header http.Header, tagHeader, timeHeader, validator string, modified time.Time) {
	if validator != "" {
		header.Set(tagHeader, validator)
	}
	if !modified.IsZero() {
		header.Set(timeHeader, modified.UTC().Format(http.TimeFormat))
	}
}
