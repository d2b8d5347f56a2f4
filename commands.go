package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/sirupsen/logrus"

	"github.com/commode/commode/internal/boilerplate"
	"github.com/commode/commode/internal/cache"
	"github.com/commode/commode/internal/config"
	"github.com/commode/commode/internal/entry"
	"github.com/commode/commode/internal/logging"
	"github.com/commode/commode/internal/remote"
	"github.com/commode/commode/internal/server"
)

const defaultListenAddr = "127.0.0.1:8080"

// command 描述一个子命令；remote 为 true 时执行前要求已配置服务端地址。
type command struct {
	name    string
	args    string
	summary string
	remote  bool
	run     func(cc *commandContext, args []string) error
}

var commands = []command{
	{name: "config", args: "[--server-address URL] [--user USER] [--password PASSWORD]", summary: "show or update the configuration", run: runConfig},
	{name: "download", args: "FILE", summary: "print a file stored on the server", remote: true, run: runDownload},
	{name: "upload", args: "SOURCE DESTINATION", summary: "upload a local file to the server", remote: true, run: runUpload},
	{name: "delete", args: "FILE", summary: "delete a file on the server", remote: true, run: runDelete},
	{name: "stat", args: "FILE", summary: "show the validator and modification time of a file", remote: true, run: runStat},
	{name: "ls", args: "[DIRECTORY]", summary: "list a directory on the server", remote: true, run: runList},
	{name: "mkdir", args: "DIRECTORY", summary: "create a directory on the server", remote: true, run: runMakeDir},
	{name: "rmdir", args: "DIRECTORY", summary: "remove a directory on the server", remote: true, run: runRemoveDir},
	{name: "boilerplates", args: "", summary: "list boilerplates on the server", remote: true, run: runBoilerplates},
	{name: "boilerplate", args: "show|upload|delete|install NAME [MAPPING.json] [--dir DIR]", summary: "manage a single boilerplate", remote: true, run: runBoilerplate},
	{name: "cache", args: "list [files|boilerplates] | clear", summary: "inspect or clear the local cache", run: runCache},
	{name: "serve", args: "[--listen ADDR] [--echo-validators]", summary: "run an in-memory Cabinet server for development", run: runServe},
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: commode [-v|-q] [--debug|--trace] [--log-file PATH] [--config PATH] COMMAND [ARGS]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-13s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(w, "  %-13s %s\n", "version", "print version information")
}

// commandContext 是单次命令执行期间共享的状态。
type commandContext struct {
	ctx    context.Context
	opts   cliOptions
	cfg    *config.Config
	logger *logrus.Logger
}

// say 输出普通提示，--quiet 时不输出。
func (cc *commandContext) say(format string, args ...any) {
	if cc.opts.quiet {
		return
	}
	fmt.Fprintf(stdOut, format+"\n", args...)
}

func (cc *commandContext) openStore() (cache.Store, error) {
	return cache.NewStore(cache.Options{
		Dir:         cc.cfg.Cache.Dir,
		LockTimeout: cc.cfg.Cache.LockTimeout.DurationValue(),
		Logger:      cc.logger,
	})
}

// withSession 为一次命令打开唯一的远端会话，命令结束后关闭。
func (cc *commandContext) withSession(fn func(deps entry.Deps, session *remote.Session) error) error {
	store, err := cc.openStore()
	if err != nil {
		return errors.Annotate(err, "open cache")
	}
	opts := remote.OptionsFromConfig(cc.cfg.Server, cc.logger)
	if remoteTransport != nil {
		opts.Transport = remoteTransport
	}
	client, err := remote.NewClient(opts)
	if err != nil {
		return errors.Trace(err)
	}

	session := client.Open()
	defer session.Close()

	cc.logger.WithFields(logrus.Fields{
		"action":    "session_open",
		"server":    client.BaseURL(),
		"auth_mode": cc.cfg.Server.AuthMode(),
	}).Debug("remote session opened")
	return fn(entry.Deps{Store: store, Remote: session, Logger: cc.logger}, session)
}

// newCommandFlags 构建子命令自己的标志集，解析错误统一视为用法错误。
func newCommandFlags(name string) *gnuflag.FlagSet {
	fs := gnuflag.NewFlagSet(name, gnuflag.ContinueOnError)
	fs.Usage = func() {}
	return fs
}

func parseCommandFlags(fs *gnuflag.FlagSet, args []string) ([]string, error) {
	if err := fs.Parse(true, args); err != nil {
		return nil, usagef("%v", err)
	}
	return fs.Args(), nil
}

func expectArgs(args []string, lo, hi int) error {
	switch {
	case len(args) < lo:
		return usagef("missing arguments")
	case len(args) > hi:
		return usagef("unexpected arguments: %s", strings.Join(args[hi:], " "))
	}
	return nil
}

func runConfig(cc *commandContext, args []string) error {
	fs := newCommandFlags("config")
	var address, user, password string
	fs.StringVar(&address, "server-address", "", "server URL, e.g. https://cabinet.example.com")
	fs.StringVar(&user, "user", "", "user name for basic authentication")
	fs.StringVar(&password, "password", "", "password for basic authentication")
	rest, err := parseCommandFlags(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(rest, 0, 0); err != nil {
		return err
	}

	if address == "" && user == "" && password == "" {
		return printConfig(cc)
	}

	if address != "" {
		host, scheme, err := config.ParseServerAddress(address)
		if err != nil {
			return errors.Trace(err)
		}
		cc.cfg.Server.Address = host
		cc.cfg.Server.Scheme = scheme
	}
	if user != "" {
		cc.cfg.Server.User = user
	}
	if password != "" {
		cc.cfg.Server.Password = password
	}
	if err := cc.cfg.Validate(); err != nil {
		return errors.Trace(err)
	}
	if err := config.Save(cc.opts.configPath, cc.cfg); err != nil {
		return errors.Trace(err)
	}
	cc.logger.WithFields(logging.BaseFields("config_save", cc.opts.configPath)).Info("configuration saved")
	cc.say("configuration written to %s", cc.opts.configPath)
	return nil
}

func printConfig(cc *commandContext) error {
	srv := cc.cfg.Server
	password := ""
	if srv.Password != "" {
		password = "********"
	}
	fmt.Fprintf(stdOut, "config file:    %s\n", cc.opts.configPath)
	if srv.Configured() {
		fmt.Fprintf(stdOut, "server address: %s\n", srv.BaseURL())
	} else {
		fmt.Fprintf(stdOut, "server address: (not configured)\n")
	}
	fmt.Fprintf(stdOut, "user:           %s\n", srv.User)
	fmt.Fprintf(stdOut, "password:       %s\n", password)
	fmt.Fprintf(stdOut, "cache dir:      %s\n", cc.cfg.Cache.Dir)
	return nil
}

func runDownload(cc *commandContext, args []string) error {
	if err := expectArgs(args, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		content, err := entry.NewFile(deps, args[0]).Read(cc.ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(stdOut, string(content))
		return nil
	})
}

func runUpload(cc *commandContext, args []string) error {
	if err := expectArgs(args, 2, 2); err != nil {
		return err
	}
	source, destination := args[0], args[1]
	raw, err := os.ReadFile(source)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("source file %s", source)
		}
		return errors.Annotatef(err, "read %s", source)
	}
	content, err := (entry.TextCodec{}).Decode(raw)
	if err != nil {
		return errors.Annotatef(err, "read %s", source)
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		if err := entry.NewFile(deps, destination).Write(cc.ctx, content); err != nil {
			return err
		}
		cc.say("uploaded %s to %s", source, destination)
		return nil
	})
}

func runDelete(cc *commandContext, args []string) error {
	if err := expectArgs(args, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		if err := entry.NewFile(deps, args[0]).Delete(cc.ctx); err != nil {
			return err
		}
		cc.say("deleted %s", args[0])
		return nil
	})
}

func runStat(cc *commandContext, args []string) error {
	if err := expectArgs(args, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		meta, err := entry.NewFile(deps, args[0]).Stat(cc.ctx)
		if err != nil {
			return err
		}
		cached := "no"
		switch {
		case meta.Cached && meta.Stale:
			cached = "yes (stale)"
		case meta.Cached:
			cached = "yes"
		}
		fmt.Fprintf(stdOut, "file:          %s\n", args[0])
		fmt.Fprintf(stdOut, "etag:          %s\n", meta.Validator)
		fmt.Fprintf(stdOut, "last-modified: %s\n", meta.LastModified.UTC().Format(http.TimeFormat))
		fmt.Fprintf(stdOut, "cached:        %s\n", cached)
		return nil
	})
}

func runList(cc *commandContext, args []string) error {
	if err := expectArgs(args, 0, 1); err != nil {
		return err
	}
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	return cc.withSession(func(_ entry.Deps, session *remote.Session) error {
		names, err := session.ListDir(cc.ctx, dir)
		if err != nil {
			return err
		}
		printSorted(names)
		return nil
	})
}

func runMakeDir(cc *commandContext, args []string) error {
	if err := expectArgs(args, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(_ entry.Deps, session *remote.Session) error {
		if err := session.MakeDir(cc.ctx, args[0]); err != nil {
			return err
		}
		cc.say("created %s", args[0])
		return nil
	})
}

func runRemoveDir(cc *commandContext, args []string) error {
	if err := expectArgs(args, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(_ entry.Deps, session *remote.Session) error {
		if err := session.RemoveDir(cc.ctx, args[0]); err != nil {
			return err
		}
		cc.say("removed %s", args[0])
		return nil
	})
}

func runBoilerplates(cc *commandContext, args []string) error {
	if err := expectArgs(args, 0, 0); err != nil {
		return err
	}
	return cc.withSession(func(_ entry.Deps, session *remote.Session) error {
		names, err := session.ListBoilerplates(cc.ctx)
		if err != nil {
			return err
		}
		printSorted(names)
		return nil
	})
}

func runBoilerplate(cc *commandContext, args []string) error {
	if len(args) == 0 {
		return usagef("missing boilerplate action")
	}
	action, args := args[0], args[1:]
	switch action {
	case "show":
		return showBoilerplate(cc, args)
	case "upload":
		return uploadBoilerplate(cc, args)
	case "delete":
		return deleteBoilerplate(cc, args)
	case "install":
		return installBoilerplate(cc, args)
	default:
		return usagef("unknown boilerplate action %q", action)
	}
}

func showBoilerplate(cc *commandContext, args []string) error {
	if err := expectArgs(args, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		mapping, err := entry.NewBoilerplate(deps, args[0]).Read(cc.ctx)
		if err != nil {
			return err
		}
		patterns := make([]string, 0, len(mapping))
		for pattern := range mapping {
			patterns = append(patterns, pattern)
		}
		sort.Strings(patterns)
		for _, pattern := range patterns {
			fmt.Fprintf(stdOut, "%s -> %s\n", pattern, mapping[pattern])
		}
		return nil
	})
}

func uploadBoilerplate(cc *commandContext, args []string) error {
	if err := expectArgs(args, 2, 2); err != nil {
		return err
	}
	name, source := args[0], args[1]
	raw, err := os.ReadFile(source)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("mapping file %s", source)
		}
		return errors.Annotatef(err, "read %s", source)
	}
	mapping, err := (entry.MappingCodec{}).Decode(raw)
	if err != nil {
		return errors.Annotatef(err, "read %s", source)
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		if err := entry.NewBoilerplate(deps, name).Write(cc.ctx, mapping); err != nil {
			return err
		}
		cc.say("uploaded boilerplate %s", name)
		return nil
	})
}

func deleteBoilerplate(cc *commandContext, args []string) error {
	if err := expectArgs(args, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		if err := entry.NewBoilerplate(deps, args[0]).Delete(cc.ctx); err != nil {
			return err
		}
		cc.say("deleted boilerplate %s", args[0])
		return nil
	})
}

func installBoilerplate(cc *commandContext, args []string) error {
	fs := newCommandFlags("boilerplate install")
	var dir string
	fs.StringVar(&dir, "dir", "", "base directory for relative destinations")
	rest, err := parseCommandFlags(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(rest, 1, 1); err != nil {
		return err
	}
	return cc.withSession(func(deps entry.Deps, _ *remote.Session) error {
		installer := &boilerplate.Installer{Deps: deps, Env: boilerplate.EnvFromOS(), Dir: dir, Logger: cc.logger}
		targets, err := installer.Install(cc.ctx, rest[0])
		if err != nil {
			return err
		}
		for _, target := range targets {
			cc.say("installed %s -> %s", target.Remote, target.Local)
		}
		return nil
	})
}

func runCache(cc *commandContext, args []string) error {
	if len(args) == 0 {
		return usagef("missing cache action")
	}
	store, err := cc.openStore()
	if err != nil {
		return errors.Annotate(err, "open cache")
	}

	switch args[0] {
	case "list":
		if err := expectArgs(args[1:], 0, 1); err != nil {
			return err
		}
		namespaces := cache.Namespaces()
		if len(args) == 2 {
			ns, err := cache.ParseNamespace(args[1])
			if err != nil {
				return usagef("%v", err)
			}
			namespaces = []cache.Namespace{ns}
		}
		for _, ns := range namespaces {
			items, err := store.List(cc.ctx, ns)
			if err != nil {
				return errors.Trace(err)
			}
			for _, item := range items {
				payload := "metadata only"
				if item.Record.HasPayload {
					payload = fmt.Sprintf("%d bytes", len(item.Record.Payload))
				}
				fmt.Fprintf(stdOut, "%s/%s\t%s\t%s\t%s\n",
					ns, item.Name, item.Record.Validator,
					item.Record.LastModified.UTC().Format(http.TimeFormat), payload)
			}
		}
		return nil
	case "clear":
		if err := expectArgs(args[1:], 0, 0); err != nil {
			return err
		}
		for _, ns := range cache.Namespaces() {
			if err := store.Clear(cc.ctx, ns); err != nil {
				return errors.Trace(err)
			}
		}
		cc.logger.WithFields(logging.BaseFields("cache_clear", cc.opts.configPath)).Info("cache cleared")
		cc.say("cache cleared")
		return nil
	default:
		return usagef("unknown cache action %q", args[0])
	}
}

// runServe 启动基于内存后端的 Cabinet 服务，供本地开发与演示使用。
func runServe(cc *commandContext, args []string) error {
	fs := newCommandFlags("serve")
	var listen string
	var echo bool
	fs.StringVar(&listen, "listen", defaultListenAddr, "listen address")
	fs.BoolVar(&echo, "echo-validators", false, "return ETag and Last-Modified on PUT responses")
	rest, err := parseCommandFlags(fs, args)
	if err != nil {
		return err
	}
	if err := expectArgs(rest, 0, 0); err != nil {
		return err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:         cc.logger,
		Backend:        server.NewBackend(),
		EchoValidators: echo,
	})
	if err != nil {
		return errors.Annotate(err, "build server")
	}

	cc.logger.WithFields(logrus.Fields{
		"action":          "serve",
		"listen":          listen,
		"echo_validators": echo,
	}).Info("Cabinet 服务启动")

	go func() {
		<-cc.ctx.Done()
		_ = app.Shutdown()
	}()
	return app.Listen(listen)
}

// printSorted 按字典序逐行输出，不依赖服务端返回的顺序。
func printSorted(lines []string) {
	sorted := append([]string(nil), lines...)
	sort.Strings(sorted)
	for _, line := range sorted {
		fmt.Fprintln(stdOut, line)
	}
}
