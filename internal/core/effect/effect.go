// Package effect 视频效果。效果不得修改输入帧，输入帧可能来自共享缓存。
package effect

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
	"github.com/gowvp/cutline/internal/core/timeline"
)

// ErrUnknownEffect 效果未注册
var ErrUnknownEffect = errors.New("unknown effect")

// Effect 对单帧应用效果，返回新帧
type Effect interface {
	Apply(f *media.Frame, t time.Duration, p timeline.Params) (*media.Frame, error)
}

// Func 函数适配为 Effect
type Func func(f *media.Frame, t time.Duration, p timeline.Params) (*media.Frame, error)

func (fn Func) Apply(f *media.Frame, t time.Duration, p timeline.Params) (*media.Frame, error) {
	return fn(f, t, p)
}

// Registry 按名称查找效果，并发安全
type Registry struct {
	mu      sync.RWMutex
	effects map[string]Effect
}

// NewRegistry 创建已注册内置效果的表
func NewRegistry() *Registry {
	r := &Registry{effects: make(map[string]Effect)}
	for name, e := range builtins {
		r.effects[name] = e
	}
	return r
}

// Register 注册或覆盖效果
func (r *Registry) Register(name string, e Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects[name] = e
}

func (r *Registry) Get(name string) (Effect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.effects[name]
	return e, ok
}

// Names 已注册效果名，按字母序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.effects))
	for k := range r.effects {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Chain 按声明顺序依次应用效果链
func (r *Registry) Chain(f *media.Frame, t time.Duration, refs []timeline.EffectRef) (*media.Frame, error) {
	for _, ref := range refs {
		e, ok := r.Get(ref.Name)
		if !ok {
			return nil, fmt.Errorf("effect %s(%s): %w", ref.Name, ref.ID, ErrUnknownEffect)
		}
		out, err := e.Apply(f, t, ref.Params)
		if err != nil {
			return nil, fmt.Errorf("effect %s(%s): %w", ref.Name, ref.ID, err)
		}
		f = out
	}
	return f, nil
}
