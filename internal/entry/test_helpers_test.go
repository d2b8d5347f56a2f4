package entry

import (
	"context"
	"testing"

	"github.com/commode/commode/internal/cache"
	"github.com/commode/commode/internal/logging"
	"github.com/commode/commode/internal/remote"
	"github.com/commode/commode/internal/server"
)

// testEnv 把 Entry 接到进程内的 Cabinet 开发服务端与临时缓存目录。
type testEnv struct {
	backend  *server.Backend
	recorder *server.Recorder
	store    cache.Store
	outcomes *outcomeRecorder
	deps     Deps
}

func newTestEnv(t *testing.T, echo bool) *testEnv {
	t.Helper()

	backend := server.NewBackend()
	recorder := &server.Recorder{}
	app, err := server.NewApp(server.AppOptions{
		Logger:         logging.Discard(),
		Backend:        backend,
		Recorder:       recorder,
		EchoValidators: echo,
	})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	client, err := remote.NewClient(remote.Options{
		BaseURL:   "http://cabinet.test",
		Transport: server.AppTransport{App: app},
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	session := client.Open()
	t.Cleanup(func() { _ = session.Close() })

	store := newTestStore(t)
	outcomes := &outcomeRecorder{inner: session}
	return &testEnv{
		backend:  backend,
		recorder: recorder,
		store:    store,
		outcomes: outcomes,
		deps:     Deps{Store: store, Remote: outcomes, Logger: logging.Discard()},
	}
}

func (env *testEnv) seedFile(t *testing.T, name, content string) string {
	t.Helper()
	res, _, err := env.backend.WriteFile(name, []byte(content), server.Conditions{})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return res.ETag
}

func (env *testEnv) cached(t *testing.T, ns cache.Namespace, name string) *cache.Record {
	t.Helper()
	record, err := env.store.Get(context.Background(), cache.Locator{Namespace: ns, Name: name})
	if err != nil {
		return nil
	}
	return record
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(cache.Options{Dir: t.TempDir(), LockName: "commode-entry-test"})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

// outcomeRecorder 包装真实 Session，记录每次请求得到的 Outcome。
type outcomeRecorder struct {
	inner    Remote
	requests []remote.Request
	kinds    []remote.Kind
}

func (r *outcomeRecorder) Do(ctx context.Context, req remote.Request) remote.Outcome {
	out := r.inner.Do(ctx, req)
	r.requests = append(r.requests, req)
	r.kinds = append(r.kinds, out.Kind)
	return out
}

func (r *outcomeRecorder) last() (remote.Request, remote.Kind) {
	return r.requests[len(r.requests)-1], r.kinds[len(r.kinds)-1]
}

// stubRemote 按顺序返回预设的 Outcome，用于服务端无法构造的异常路径。
type stubRemote struct {
	outcomes []remote.Outcome
	requests []remote.Request
}

func (s *stubRemote) Do(_ context.Context, req remote.Request) remote.Outcome {
	s.requests = append(s.requests, req)
	if len(s.outcomes) == 0 {
		return remote.Outcome{Kind: remote.UnexpectedStatus, Status: 599}
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out
}
