package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mutex/v2"
	"github.com/sirupsen/logrus"
	"github.com/steveyen/gkvlite"
)

const (
	// DefaultFileName 是缓存目录下的 gkvlite 数据文件名。
	DefaultFileName = "cache.gkv"
	// DefaultLockName 是机器级互斥锁名称，需满足 ^[a-z]+[a-z0-9.-]*$。
	DefaultLockName = "commode-cache"

	lockDelay = 20 * time.Millisecond

	// 数据文件超过存活数据的 compactRatio 倍且不小于 compactMinSize 时重写。
	compactRatio   = 4
	compactMinSize = 1 << 20
)

// Options 描述缓存文件位置与事务锁参数。
type Options struct {
	Dir         string
	LockName    string
	LockTimeout time.Duration
	Clock       clock.Clock
	Logger      *logrus.Logger
}

// NewStore 以 opts.Dir 为根目录构建缓存。不会保持文件打开，每个操作独立获取和释放。
func NewStore(opts Options) (Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.Annotate(err, "resolve cache dir")
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, errors.Annotate(err, "create cache dir")
	}

	if opts.LockName == "" {
		opts.LockName = DefaultLockName
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}

	return &kvStore{
		path:        filepath.Join(abs, DefaultFileName),
		lockName:    opts.LockName,
		lockTimeout: opts.LockTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger,
		acquire:     mutex.Acquire,
		compactMin:  compactMinSize,
	}, nil
}

// kvStore 把每个命名空间映射为 gkvlite 的一个 collection，记录以 JSON 保存。
type kvStore struct {
	path        string
	lockName    string
	lockTimeout time.Duration
	clock       clock.Clock
	logger      *logrus.Logger
	acquire     func(mutex.Spec) (mutex.Releaser, error)
	compactMin  int64
}

// txn 是一次已打开的事务，仅在 withTxn 回调内有效。
type txn struct {
	file  *os.File
	store *gkvlite.Store
	dirty bool
}

func (t *txn) collection(ns Namespace) *gkvlite.Collection {
	return t.store.SetCollection(string(ns), nil)
}

func (s *kvStore) Get(ctx context.Context, locator Locator) (*Record, error) {
	var record *Record
	err := s.withTxn(ctx, func(t *txn) error {
		raw, err := t.collection(locator.Namespace).Get([]byte(locator.Name))
		if err != nil {
			return errors.Annotatef(err, "read %s", locator)
		}
		if raw == nil {
			return ErrNotFound
		}
		var decoded Record
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return errors.Annotatef(err, "decode %s", locator)
		}
		record = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *kvStore) Put(ctx context.Context, locator Locator, record Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Annotatef(err, "encode %s", locator)
	}
	return s.withTxn(ctx, func(t *txn) error {
		if err := t.collection(locator.Namespace).Set([]byte(locator.Name), raw); err != nil {
			return errors.Annotatef(err, "write %s", locator)
		}
		t.dirty = true
		return nil
	})
}

func (s *kvStore) Remove(ctx context.Context, locator Locator) error {
	return s.withTxn(ctx, func(t *txn) error {
		deleted, err := t.collection(locator.Namespace).Delete([]byte(locator.Name))
		if err != nil {
			return errors.Annotatef(err, "delete %s", locator)
		}
		t.dirty = deleted
		return nil
	})
}

func (s *kvStore) List(ctx context.Context, namespace Namespace) ([]Item, error) {
	var items []Item
	err := s.withTxn(ctx, func(t *txn) error {
		var decodeErr error
		visit := func(i *gkvlite.Item) bool {
			var record Record
			if err := json.Unmarshal(i.Val, &record); err != nil {
				decodeErr = errors.Annotatef(err, "decode %s/%s", namespace, string(i.Key))
				return false
			}
			items = append(items, Item{Name: string(i.Key), Record: record})
			return true
		}
		if err := t.collection(namespace).VisitItemsAscend([]byte(""), true, visit); err != nil {
			return errors.Annotatef(err, "list %s", namespace)
		}
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *kvStore) Clear(ctx context.Context, namespace Namespace) error {
	return s.withTxn(ctx, func(t *txn) error {
		t.store.RemoveCollection(string(namespace))
		t.dirty = true
		return nil
	})
}

// withTxn 获取机器级锁并打开数据文件，fn 返回后按需 flush，并在任意路径上关闭文件、释放锁。
func (s *kvStore) withTxn(ctx context.Context, fn func(*txn) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	releaser, err := s.acquire(mutex.Spec{
		Name:    s.lockName,
		Clock:   s.clock,
		Delay:   lockDelay,
		Timeout: s.lockTimeout,
	})
	if err != nil {
		if errors.Is(err, mutex.ErrTimeout) {
			return errors.Annotatef(ErrLocked, "after %s", s.lockTimeout)
		}
		return errors.Annotate(err, "acquire cache lock")
	}
	defer releaser.Release()

	file, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return errors.Annotate(err, "open cache file")
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Annotate(closeErr, "close cache file")
		}
	}()

	store, err := gkvlite.NewStore(file)
	if err != nil {
		return errors.Annotate(err, "load cache file")
	}
	defer store.Close()

	t := &txn{file: file, store: store}
	if err := fn(t); err != nil {
		return err
	}
	if !t.dirty {
		return nil
	}
	if err := store.Flush(); err != nil {
		return errors.Annotate(err, "flush cache file")
	}
	return s.compact(t)
}

// compact 回收 gkvlite 追加写入留下的旧版本：所有命名空间为空时截断文件，
// 文件远大于存活数据时把存活记录复制到新文件并原子替换。
func (s *kvStore) compact(t *txn) error {
	live, err := liveBytes(t.store)
	if err != nil {
		return err
	}
	if live == 0 {
		s.logCompaction("cache file truncated", 0)
		return errors.Annotate(t.file.Truncate(0), "truncate cache file")
	}

	info, err := t.file.Stat()
	if err != nil {
		return errors.Annotate(err, "stat cache file")
	}
	if info.Size() < s.compactMin || info.Size() <= live*compactRatio {
		return nil
	}
	if err := s.rewrite(t.store); err != nil {
		return err
	}
	s.logCompaction("cache file rewritten", live)
	return nil
}

// rewrite 把存活记录写入同目录的临时文件，成功后替换原文件；调用方持有事务锁。
func (s *kvStore) rewrite(src *gkvlite.Store) (err error) {
	tmpPath := s.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Annotate(err, "create compacted cache file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	dst, err := src.CopyTo(tmp, 0)
	if err != nil {
		return errors.Annotate(err, "copy cache records")
	}
	if err = dst.Flush(); err != nil {
		dst.Close()
		return errors.Annotate(err, "flush compacted cache file")
	}
	dst.Close()
	if err = tmp.Sync(); err != nil {
		return errors.Annotate(err, "sync compacted cache file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Annotate(err, "close compacted cache file")
	}
	if err = os.Rename(tmpPath, s.path); err != nil {
		return errors.Annotate(err, "replace cache file")
	}
	return nil
}

// liveBytes 统计所有命名空间中存活键值的字节数。
func liveBytes(store *gkvlite.Store) (int64, error) {
	var total int64
	for _, ns := range Namespaces() {
		coll := store.GetCollection(string(ns))
		if coll == nil {
			continue
		}
		err := coll.VisitItemsAscend([]byte(""), true, func(i *gkvlite.Item) bool {
			total += int64(len(i.Key) + len(i.Val))
			return true
		})
		if err != nil {
			return 0, errors.Annotatef(err, "inspect %s", ns)
		}
	}
	return total, nil
}

func (s *kvStore) logCompaction(msg string, live int64) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{"action": "cache_compact", "path": s.path, "live_bytes": live}).Debug(msg)
}
