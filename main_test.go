package main

import (
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("COMMODE_CONFIG", "/tmp/env.ini")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.ini" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.ini"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.ini" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefaultPath(t *testing.T) {
	t.Setenv("COMMODE_CONFIG", "")
	opts, err := parseCLIFlags([]string{"ls"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath == "" || !strings.HasSuffix(opts.configPath, ".ini") {
		t.Fatalf("缺省配置路径不正确: %q", opts.configPath)
	}
}

func TestParseCLIFlagsStopsAtCommand(t *testing.T) {
	opts, err := parseCLIFlags([]string{"-v", "--debug", "download", "--trace", "notes.txt"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !opts.verbose || !opts.debug || opts.trace {
		t.Fatalf("global flags not parsed as expected: %+v", opts)
	}
	if opts.command != "download" {
		t.Fatalf("expected download command, got %q", opts.command)
	}
	if len(opts.args) != 2 || opts.args[0] != "--trace" || opts.args[1] != "notes.txt" {
		t.Fatalf("arguments after the command belong to it, got %v", opts.args)
	}
}

func TestParseCLIFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--no-such-flag"}); err == nil {
		t.Fatalf("unknown global flag should fail")
	}
}

func TestApplyLogOverrides(t *testing.T) {
	cases := []struct {
		opts cliOptions
		want string
	}{
		{cliOptions{}, "error"},
		{cliOptions{quiet: true}, "warn"},
		{cliOptions{verbose: true}, "info"},
		{cliOptions{verbose: true, debug: true}, "debug"},
		{cliOptions{debug: true, trace: true}, "trace"},
	}
	for _, tc := range cases {
		cfg := logConfigWithLevel("error")
		applyLogOverrides(&cfg, tc.opts)
		if cfg.Level != tc.want {
			t.Fatalf("%+v: expected %s, got %s", tc.opts, tc.want, cfg.Level)
		}
	}

	cfg := logConfigWithLevel("info")
	applyLogOverrides(&cfg, cliOptions{logFile: "/tmp/commode.log"})
	if cfg.FilePath != "/tmp/commode.log" {
		t.Fatalf("--log-file should override the configured path")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{command: "version"})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "commode") {
		t.Fatalf("version 输出应包含 commode 标识")
	}
}

func TestRunHelpListsCommands(t *testing.T) {
	useBufferWriters(t)
	if code := run(cliOptions{}); code != 0 {
		t.Fatalf("help should exit 0, got %d", code)
	}
	out := stdOutBuffer().String()
	for _, name := range []string{"download", "upload", "boilerplate", "cache", "serve"} {
		if !strings.Contains(out, name) {
			t.Fatalf("usage should mention %s:\n%s", name, out)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{command: "frobnicate", configPath: configFixture(t, "valid.ini")})
	if code != 2 {
		t.Fatalf("未知命令应返回 2，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "unknown command") {
		t.Fatalf("stderr should explain the failure: %s", stdErrBuffer().String())
	}
}

func TestRunInvalidConfig(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{command: "config", configPath: configFixture(t, "invalid.ini")})
	if code != 1 {
		t.Fatalf("无效配置应返回 1，得到 %d", code)
	}
	if !strings.HasPrefix(stdErrBuffer().String(), "Error: ") {
		t.Fatalf("errors are reported with an Error: prefix, got %q", stdErrBuffer().String())
	}
}

func TestRunShowsConfigFixture(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{command: "config", configPath: configFixture(t, "valid.ini")})
	if code != 0 {
		t.Fatalf("config 展示应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
	if !strings.Contains(stdOutBuffer().String(), "https://cabinet.local:8443") {
		t.Fatalf("config output should show the server URL:\n%s", stdOutBuffer().String())
	}
}
