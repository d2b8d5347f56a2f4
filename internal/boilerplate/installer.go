package boilerplate

import (
	"context"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/commode/commode/internal/entry"
	"github.com/commode/commode/internal/logging"
)

// Installer 把 boilerplate 引用的服务端文件写到解析后的本地路径。
// Deps.Remote 应是同一个 Session，整个安装过程复用一条连接。
type Installer struct {
	Deps entry.Deps
	Env  map[string]string
	// Dir 是相对路径的基准目录，为空时使用当前工作目录。
	Dir    string
	Logger *logrus.Logger
}

// Install 先读取 boilerplate 与全部文件，全部成功后才写入本地，避免半途失败留下残缺的安装。
func (i *Installer) Install(ctx context.Context, name string) ([]Target, error) {
	logger := i.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	files, err := entry.NewBoilerplate(i.Deps, name).Read(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	targets, err := Resolve(i.Env, files)
	if err != nil {
		return nil, errors.Annotatef(err, "boilerplate %s", name)
	}

	for idx := range targets {
		if path := targets[idx].Local; !filepath.IsAbs(path) && i.Dir != "" {
			targets[idx].Local = filepath.Join(i.Dir, path)
		}
	}
	if err := checkDistinct(targets); err != nil {
		return nil, errors.Annotatef(err, "boilerplate %s", name)
	}

	contents := make([]entry.Text, len(targets))
	for idx, target := range targets {
		content, err := entry.NewFile(i.Deps, target.Remote).Read(ctx)
		if err != nil {
			return nil, errors.Annotatef(err, "boilerplate %s", name)
		}
		contents[idx] = content
	}

	for idx := range targets {
		path := targets[idx].Local
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Annotatef(err, "create directory for %s", path)
		}
		if err := os.WriteFile(path, []byte(contents[idx]), 0o644); err != nil {
			return nil, errors.Annotatef(err, "write %s", path)
		}
		logger.WithFields(logging.ResourceFields("boilerplates", name)).
			WithFields(logrus.Fields{"action": "boilerplate_install", "local": path, "remote": targets[idx].Remote}).
			Debug("file installed")
	}
	return targets, nil
}
