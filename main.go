package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/commode/commode/internal/config"
	"github.com/commode/commode/internal/logging"
)

// cliOptions 汇总全局标志与子命令，便于在测试中注入。
type cliOptions struct {
	configPath string
	verbose    bool
	quiet      bool
	debug      bool
	trace      bool
	logFile    string
	command    string
	args       []string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr

	// remoteTransport 非空时替代真实网络连接，测试通过它接入进程内的 Cabinet 服务端。
	remoteTransport http.RoundTripper
)

// usageError 表示命令行用法错误，退出码为 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(stdErr, "Error: %v\n", err)
		printUsage(stdErr)
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 加载配置、初始化日志并执行子命令，返回退出码，方便测试。
func run(opts cliOptions) int {
	switch opts.command {
	case "", "help":
		printUsage(stdOut)
		return 0
	case "version":
		printVersion()
		return 0
	}

	cmd, ok := lookupCommand(opts.command)
	if !ok {
		fmt.Fprintf(stdErr, "Error: unknown command %q\n", opts.command)
		printUsage(stdErr)
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "Error: load config %s: %v\n", opts.configPath, err)
		return 1
	}
	applyLogOverrides(&cfg.Log, opts)

	logger, err := logging.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "Error: init logger: %v\n", err)
		return 1
	}
	if warning := config.PermissionWarning(opts.configPath); warning != "" {
		logger.WithFields(logging.BaseFields("config_permissions", opts.configPath)).Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cc := &commandContext{ctx: ctx, opts: opts, cfg: cfg, logger: logger}
	if cmd.remote {
		if err := cfg.RequireServer(); err != nil {
			fmt.Fprintf(stdErr, "Error: %v\n", err)
			return 1
		}
	}

	fields := logging.BaseFields(cmd.name, opts.configPath)
	fields["args"] = strings.Join(opts.args, " ")
	logger.WithFields(fields).Debug("command started")

	if err := cmd.run(cc, opts.args); err != nil {
		logger.WithFields(fields).WithField("error", errors.Details(err)).Debug("command failed")
		fmt.Fprintf(stdErr, "Error: %v\n", err)
		var usage *usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(stdErr, "Usage: commode %s %s\n", cmd.name, cmd.args)
			return 2
		}
		return 1
	}
	return 0
}

// parseCLIFlags 解析全局标志，遇到第一个非标志参数即视为子命令，并结合环境变量计算配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := gnuflag.NewFlagSet("commode", gnuflag.ContinueOnError)
	fs.Usage = func() {}

	var opts cliOptions
	var configFlag string
	fs.BoolVar(&opts.verbose, "v", false, "be verbose")
	fs.BoolVar(&opts.verbose, "verbose", false, "be verbose")
	fs.BoolVar(&opts.quiet, "q", false, "be quiet")
	fs.BoolVar(&opts.quiet, "quiet", false, "be quiet")
	fs.BoolVar(&opts.debug, "debug", false, "log debugging information")
	fs.BoolVar(&opts.trace, "trace", false, "log debugging and trace information")
	fs.StringVar(&opts.logFile, "log-file", "", "write logs to a rotating file instead of stderr")
	fs.StringVar(&configFlag, "config", "", "config file path (default $COMMODE_CONFIG or the user config dir)")

	if err := fs.Parse(false, args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	rest := fs.Args()
	if len(rest) > 0 {
		opts.command = rest[0]
		opts.args = rest[1:]
	}

	opts.configPath = os.Getenv(config.EnvConfigPath)
	if configFlag != "" {
		opts.configPath = configFlag
	}
	if opts.configPath == "" {
		opts.configPath = config.DefaultPath()
	}
	return opts, nil
}

// applyLogOverrides 按 trace > debug > verbose > quiet 的优先级覆盖日志级别。
func applyLogOverrides(cfg *config.LogConfig, opts cliOptions) {
	switch {
	case opts.trace:
		cfg.Level = "trace"
	case opts.debug:
		cfg.Level = "debug"
	case opts.verbose:
		cfg.Level = "info"
	case opts.quiet:
		cfg.Level = "warn"
	}
	if opts.logFile != "" {
		cfg.FilePath = opts.logFile
	}
}
