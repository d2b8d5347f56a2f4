package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggingFallbackToStderr(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "commode.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
[cache]
dir = %s

[log]
level = info
file = %s
`, filepath.Join(dir, "cache"), logPath))

	useBufferWriters(t)
	code := run(cliOptions{command: "cache", args: []string{"list"}, configPath: configPath})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d: %s", code, stdErrBuffer().String())
	}
}

func TestLogFileFlagWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "commode.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
[cache]
dir = %s
`, filepath.Join(dir, "cache")))

	useBufferWriters(t)
	code := run(cliOptions{command: "cache", args: []string{"clear"}, configPath: configPath, logFile: logPath})
	if code != 0 {
		t.Fatalf("cache clear failed with %d: %s", code, stdErrBuffer().String())
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file should be created: %v", err)
	}
	if len(content) == 0 {
		t.Fatalf("info level should log the cache clear")
	}
}
