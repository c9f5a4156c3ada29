package templates

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

//go:embed files/*.template
var builtin embed.FS

// Ext 模板文件扩展名
const Ext = ".template"

// 内置模板名
const (
	ShowVersion    = "cisco_ios_show_version"
	ShowInterfaces = "cisco_ios_show_interfaces"
)

// ErrNotFound 模板不存在
var ErrNotFound = errors.New("template not found")

// Registry 模板注册表：目录中的同名文件覆盖内置模板，编译结果缓存
type Registry struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*textfsm.Template
	group singleflight.Group
}

// NewRegistry 创建注册表，dir 为空时只使用内置模板
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:   dir,
		cache: make(map[string]*textfsm.Template),
	}
}

// Get 返回编译后的模板，name 可带或不带扩展名
func (r *Registry) Get(name string) (*textfsm.Template, error) {
	name = strings.TrimSuffix(name, Ext)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}

	r.mu.RLock()
	t, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		t, err := r.load(name)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[name] = t
		r.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*textfsm.Template), nil
}

func (r *Registry) load(name string) (*textfsm.Template, error) {
	file := name + Ext
	if r.dir != "" {
		path := filepath.Join(r.dir, file)
		if _, err := os.Stat(path); err == nil {
			t, err := textfsm.ParseFile(path)
			if err != nil {
				return nil, err
			}
			logger.WithField("template", name).Debugf("Template loaded from %s", path)
			return t, nil
		}
	}

	data, err := builtin.ReadFile("files/" + file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	t, err := textfsm.Parse(bytes.NewReader(data))
	if err != nil {
		var se *textfsm.TemplateSyntaxError
		if errors.As(err, &se) {
			se.Source = file
		}
		return nil, err
	}
	return t, nil
}

// Invalidate 移除缓存，下次 Get 时重新加载
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, strings.TrimSuffix(name, Ext))
	r.mu.Unlock()
}

// Names 列出可用模板名（内置与目录合并、排序）
func (r *Registry) Names() ([]string, error) {
	set := make(map[string]struct{})
	entries, err := fs.ReadDir(builtin, "files")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		set[strings.TrimSuffix(e.Name(), Ext)] = struct{}{}
	}
	if r.dir != "" {
		entries, err := os.ReadDir(r.dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to list template dir: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), Ext) {
				set[strings.TrimSuffix(e.Name(), Ext)] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Watch 监听模板目录，文件变更后（防抖）使对应缓存失效。ctx 结束时停止。
func (r *Registry) Watch(ctx context.Context) error {
	if r.dir == "" {
		return errors.New("template dir not configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	go func() {
		defer watcher.Close()
		const debounceInterval = 100 * time.Millisecond
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				base := filepath.Base(ev.Name)
				if !strings.HasSuffix(base, Ext) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				name := strings.TrimSuffix(base, Ext)
				// 立即失效，防抖后再失效一次以覆盖分段写入
				r.Invalidate(name)
				if t, ok := timers[name]; ok {
					t.Stop()
				}
				timers[name] = time.AfterFunc(debounceInterval, func() {
					r.Invalidate(name)
					logger.WithField("template", name).Info("Template changed, cache invalidated")
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithField("dir", r.dir).Warnf("Template watch error: %v", err)
			}
		}
	}()
	return nil
}
