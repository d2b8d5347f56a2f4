package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"

	"github.com/commode/commode/internal/config"
)

func TestSessionSendsReadPreconditions(t *testing.T) {
	seen := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	session := openTestSession(t, srv.URL, Options{})
	modified := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	out := session.Do(context.Background(), Request{Op: Read, Prefix: FilesPrefix, Name: "a b.txt", Validator: `"e1"`, LastModified: modified})

	if out.Kind != NotModified {
		t.Fatalf("expected NotModified, got %s", out.Kind)
	}
	captured := <-seen
	if captured.Header.Get("If-None-Match") != `"e1"` {
		t.Fatalf("missing If-None-Match: %v", captured.Header)
	}
	if captured.Header.Get("If-Modified-Since") != "Mon, 04 Mar 2024 10:00:00 GMT" {
		t.Fatalf("unexpected If-Modified-Since: %s", captured.Header.Get("If-Modified-Since"))
	}
	if captured.Header.Get("If-Match") != "" {
		t.Fatalf("read should not send If-Match")
	}
	if captured.URL.EscapedPath() != "/files/a%20b.txt" {
		t.Fatalf("unexpected path %s", captured.URL.EscapedPath())
	}
	if captured.Header.Get(RequestIDHeader) == "" {
		t.Fatalf("request id header missing")
	}
}

func TestSessionWriteSendsMatchPreconditionsAndBody(t *testing.T) {
	var (
		mu       sync.Mutex
		header   http.Header
		method   string
		received []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Clone()
		method = r.Method
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	session := openTestSession(t, srv.URL, Options{User: "alice", Password: "secret"})
	out := session.Do(context.Background(), Request{
		Op:          Write,
		Prefix:      BoilerplatesPrefix,
		Name:        "web",
		Validator:   `"e1"`,
		Body:        []byte(`{"a":"b"}`),
		ContentType: "application/json",
	})
	if out.Kind != Success {
		t.Fatalf("expected Success, got %s (%s)", out.Kind, out.Reason)
	}
	if out.Validator != "" {
		t.Fatalf("no ETag echoed, validator should be empty")
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", method)
	}
	if header.Get("If-Match") != `"e1"` {
		t.Fatalf("missing If-Match")
	}
	if header.Get("If-Unmodified-Since") != "" {
		t.Fatalf("zero timestamp should omit If-Unmodified-Since")
	}
	if header.Get("If-None-Match") != "" {
		t.Fatalf("write should not send If-None-Match")
	}
	if header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %s", header.Get("Content-Type"))
	}
	if header.Get("Authorization") == "" {
		t.Fatalf("basic auth expected when credentials configured")
	}
	if string(received) != `{"a":"b"}` {
		t.Fatalf("unexpected body %s", received)
	}
}

func TestSessionUnconditionalWhenNoValidator(t *testing.T) {
	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	session := openTestSession(t, srv.URL, Options{})
	out := session.Do(context.Background(), Request{Op: Delete, Prefix: FilesPrefix, Name: "a"})
	if out.Kind != Success {
		t.Fatalf("expected Success, got %s", out.Kind)
	}
	header := <-seen
	for _, key := range []string{"If-Match", "If-Unmodified-Since", "If-None-Match", "If-Modified-Since", "Authorization"} {
		if header.Get(key) != "" {
			t.Fatalf("%s should be absent", key)
		}
	}
}

func TestSessionConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	session := openTestSession(t, url, Options{Timeout: time.Second})
	out := session.Do(context.Background(), Request{Op: Read, Prefix: FilesPrefix, Name: "a"})
	if out.Kind != ConnectionFailure {
		t.Fatalf("expected ConnectionFailure, got %s", out.Kind)
	}
	if !errors.Is(out.Err("files/a"), ErrConnectionFailure) {
		t.Fatalf("error should match ErrConnectionFailure")
	}
}

func TestSessionRejectsOversizedBody(t *testing.T) {
	prev := maxBodyBytes
	maxBodyBytes = 16
	t.Cleanup(func() { maxBodyBytes = prev })

	cases := map[string]func(w http.ResponseWriter){
		"content-length": func(w http.ResponseWriter) {
			w.Write([]byte(strings.Repeat("x", 26)))
		},
		"chunked": func(w http.ResponseWriter) {
			for i := 0; i < 3; i++ {
				w.Write([]byte(strings.Repeat("x", 9)))
				w.(http.Flusher).Flush()
			}
		},
	}
	for name, write := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("ETag", `"big"`)
				w.Header().Set("Last-Modified", "Mon, 04 Mar 2024 10:00:00 GMT")
				write(w)
			}))
			defer srv.Close()

			out := openTestSession(t, srv.URL, Options{}).Do(context.Background(), Request{Op: Read, Prefix: FilesPrefix, Name: "big.txt"})
			if out.Kind == Success {
				t.Fatalf("超出上限的响应不能视为成功，得到 %d 字节", len(out.Body))
			}
			if out.Kind != ConnectionFailure || !strings.Contains(out.Reason, "exceeds 16 bytes") {
				t.Fatalf("expected ConnectionFailure naming the limit, got %s (%s)", out.Kind, out.Reason)
			}
		})
	}
}

func TestSessionAcceptsBodyAtLimit(t *testing.T) {
	prev := maxBodyBytes
	maxBodyBytes = 16
	t.Cleanup(func() { maxBodyBytes = prev })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"fit"`)
		w.Header().Set("Last-Modified", "Mon, 04 Mar 2024 10:00:00 GMT")
		w.Write([]byte(strings.Repeat("y", 16)))
	}))
	defer srv.Close()

	out := openTestSession(t, srv.URL, Options{}).Do(context.Background(), Request{Op: Read, Prefix: FilesPrefix, Name: "fit.txt"})
	if out.Kind != Success || len(out.Body) != 16 {
		t.Fatalf("body at the limit should succeed intact, got %s with %d bytes", out.Kind, len(out.Body))
	}
}

func TestClosedSessionFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	session := openTestSession(t, srv.URL, Options{})
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	out := session.Do(context.Background(), Request{Op: Read, Prefix: FilesPrefix, Name: "a"})
	if out.Kind != ConnectionFailure {
		t.Fatalf("closed session should yield ConnectionFailure, got %s", out.Kind)
	}
}

func TestSessionDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	session := openTestSession(t, srv.URL, Options{})
	out := session.Do(context.Background(), Request{Op: Read, Prefix: FilesPrefix, Name: "a"})
	if out.Kind != UnexpectedStatus || out.Status != http.StatusFound {
		t.Fatalf("redirect should be UnexpectedStatus 302, got %s %d", out.Kind, out.Status)
	}
}

func TestDirectoryPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/dirs/docs":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`["a.txt","sub/"]`))
		case r.Method == http.MethodGet && r.URL.Path == "/boilerplates":
			_, _ = w.Write([]byte(`["web"]`))
		case r.Method == http.MethodPut && r.URL.Path == "/dirs/docs/new":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete && r.URL.Path == "/dirs/used":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("referenced by boilerplate web"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	session := openTestSession(t, srv.URL, Options{})
	ctx := context.Background()

	entries, err := session.ListDir(ctx, "docs")
	if err != nil {
		t.Fatalf("list dir: %v", err)
	}
	if len(entries) != 2 || entries[1] != "sub/" {
		t.Fatalf("unexpected entries %v", entries)
	}
	if err := session.MakeDir(ctx, "docs/new"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := session.RemoveDir(ctx, "used"); !errors.Is(err, errors.BadRequest) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	if _, err := session.ListDir(ctx, "missing"); !errors.Is(err, errors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	names, err := session.ListBoilerplates(ctx)
	if err != nil || len(names) != 1 || names[0] != "web" {
		t.Fatalf("unexpected boilerplates %v %v", names, err)
	}
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	if _, err := NewClient(Options{BaseURL: "cabinet.local"}); !errors.Is(err, errors.NotValid) {
		t.Fatalf("expected NotValid, got %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.ServerConfig{Address: "cabinet.local:8443", Scheme: "http", User: "u", Password: "p", Timeout: config.Duration(5 * time.Second)}
	opts := OptionsFromConfig(cfg, nil)
	if opts.BaseURL != "http://cabinet.local:8443" {
		t.Fatalf("unexpected base url %s", opts.BaseURL)
	}
	if opts.Timeout != 5*time.Second || opts.User != "u" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func openTestSession(t *testing.T, baseURL string, opts Options) *Session {
	t.Helper()
	opts.BaseURL = baseURL
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session := client.Open()
	t.Cleanup(func() { _ = session.Close() })
	return session
}
