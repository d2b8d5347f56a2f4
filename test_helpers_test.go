package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/commode/commode/internal/config"
	"github.com/commode/commode/internal/logging"
	"github.com/commode/commode/internal/server"
)

var repoRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			repoRoot = dir
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return repoRoot
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(projectRoot(t), "internal", "config", "testdata", name)
}

// useBufferWriters 在测试期间把 stdOut/stdErr 换成内存缓冲，结束后恢复。
func useBufferWriters(t *testing.T) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
}

func stdOutBuffer() *bytes.Buffer {
	return stdOut.(*bytes.Buffer)
}

func stdErrBuffer() *bytes.Buffer {
	return stdErr.(*bytes.Buffer)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "commode.ini")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

func logConfigWithLevel(level string) config.LogConfig {
	return config.LogConfig{Level: level, Format: "text"}
}

// cliEnv 把 CLI 接到进程内的 Cabinet 服务端，并使用临时缓存目录。
type cliEnv struct {
	backend    *server.Backend
	recorder   *server.Recorder
	configPath string
	dir        string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	backend := server.NewBackend()
	recorder := &server.Recorder{}
	app, err := server.NewApp(server.AppOptions{Logger: logging.Discard(), Backend: backend, Recorder: recorder})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	prev := remoteTransport
	remoteTransport = server.AppTransport{App: app}
	t.Cleanup(func() { remoteTransport = prev })

	dir := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
[server]
address = cabinet.test
scheme = http

[cache]
dir = %s

[log]
level = error
`, filepath.Join(dir, "cache")))

	useBufferWriters(t)
	return &cliEnv{backend: backend, recorder: recorder, configPath: configPath, dir: dir}
}

// run 执行一条命令，并在执行前清空输出缓冲。
func (env *cliEnv) run(t *testing.T, args ...string) int {
	t.Helper()
	stdOutBuffer().Reset()
	stdErrBuffer().Reset()
	opts, err := parseCLIFlags(append([]string{"--config", env.configPath}, args...))
	if err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return run(opts)
}

func (env *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	if code := env.run(t, args...); code != 0 {
		t.Fatalf("%v exited with %d: %s", args, code, stdErrBuffer().String())
	}
	return stdOutBuffer().String()
}

func (env *cliEnv) seed(t *testing.T, name, content string) {
	t.Helper()
	if _, _, err := env.backend.WriteFile(name, []byte(content), server.Conditions{}); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}

func (env *cliEnv) writeLocal(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(env.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
