package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ixugo/goddd/pkg/conc"
)

type entry struct {
	src Source
	dec Decoder

	mu            sync.Mutex
	failures      int
	degradedUntil time.Time
}

// Registry 素材注册表，记录素材元数据与解码句柄
type Registry struct {
	sources  conc.Map[SourceID, *entry]
	fallback Decoder
	schemes  map[string]Decoder
	exts     map[string]Decoder

	degradeAfter int
	cooldown     time.Duration
	now          func() time.Time
	log          *slog.Logger
}

type RegistryOption func(*Registry)

// WithDecoder 默认解码器
func WithDecoder(d Decoder) RegistryOption {
	return func(r *Registry) {
		r.fallback = d
	}
}

// WithSchemeDecoder 按路径前缀选择解码器，例如 "solid" 对应 solid:#ff0000
func WithSchemeDecoder(scheme string, d Decoder) RegistryOption {
	return func(r *Registry) {
		r.schemes[strings.ToLower(scheme)] = d
	}
}

// WithExtDecoder 按文件扩展名选择解码器，例如 ".wav"
func WithExtDecoder(ext string, d Decoder) RegistryOption {
	return func(r *Registry) {
		r.exts[strings.ToLower(ext)] = d
	}
}

// WithDegrade 连续失败 after 次后标记降级，cooldown 后允许重试
func WithDegrade(after int, cooldown time.Duration) RegistryOption {
	return func(r *Registry) {
		if after > 0 {
			r.degradeAfter = after
		}
		r.cooldown = cooldown
	}
}

// WithClock 测试用
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := Registry{
		schemes:      make(map[string]Decoder),
		exts:         make(map[string]Decoder),
		degradeAfter: 3,
		cooldown:     30 * time.Second,
		now:          time.Now,
		log:          slog.With("component", "media"),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return &r
}

// IDFromPath 同一路径始终得到同一 id
func IDFromPath(path string) SourceID {
	return SourceID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String())
}

func (r *Registry) route(path string) (Decoder, error) {
	if scheme, _, ok := strings.Cut(path, ":"); ok && len(scheme) > 1 {
		if d, ok := r.schemes[strings.ToLower(scheme)]; ok {
			return d, nil
		}
	}
	if d, ok := r.exts[strings.ToLower(filepath.Ext(path))]; ok {
		return d, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, NewDecodeError(KindUnsupportedCodec, IDFromPath(path), fmt.Errorf("no decoder for %q", path))
}

// Register 探测并登记素材，已登记的路径直接返回
func (r *Registry) Register(ctx context.Context, path string) (Source, error) {
	id := IDFromPath(path)
	if e, ok := r.sources.Load(id); ok {
		return r.view(e), nil
	}
	dec, err := r.route(path)
	if err != nil {
		return Source{}, err
	}
	src, err := dec.Probe(ctx, path)
	if err != nil {
		return Source{}, AsDecodeError(id, err)
	}
	src.ID = id
	src.Path = path
	src.Degraded = false
	if src.Duration <= 0 {
		return Source{}, NewDecodeError(KindUnsupportedCodec, id, errors.New("source has no duration"))
	}
	e, _ := r.sources.LoadOrStore(id, &entry{src: src, dec: dec})
	r.log.InfoContext(ctx, "source registered", "id", id, "path", path, "duration", src.Duration)
	return r.view(e), nil
}

// Add 登记已知元数据的素材（例如从工程文件恢复），不再探测
func (r *Registry) Add(src Source) error {
	if src.Path == "" {
		return NewDecodeError(KindNotFound, src.ID, errors.New("empty path"))
	}
	if src.ID == "" {
		src.ID = IDFromPath(src.Path)
	}
	dec, err := r.route(src.Path)
	if err != nil {
		return err
	}
	src.Degraded = false
	r.sources.Store(src.ID, &entry{src: src, dec: dec})
	return nil
}

func (r *Registry) Lookup(id SourceID) (Source, bool) {
	e, ok := r.sources.Load(id)
	if !ok {
		return Source{}, false
	}
	return r.view(e), true
}

// Handle 返回素材及其解码器
func (r *Registry) Handle(id SourceID) (Source, Decoder, error) {
	e, ok := r.sources.Load(id)
	if !ok {
		return Source{}, nil, NewDecodeError(KindNotFound, id, errors.New("source not registered"))
	}
	return r.view(e), e.dec, nil
}

func (r *Registry) Remove(id SourceID) {
	r.sources.Delete(id)
}

// Sources 按路径排序
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, 8)
	r.sources.Range(func(_ SourceID, e *entry) bool {
		out = append(out, r.view(e))
		return true
	})
	slices.SortFunc(out, func(a, b Source) int {
		return strings.Compare(a.Path, b.Path)
	})
	return out
}

// Degraded 素材是否处于降级冷却期
func (r *Registry) Degraded(id SourceID) bool {
	e, ok := r.sources.Load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.now().Before(e.degradedUntil)
}

// ReportFailure 记录一次解码失败，返回是否因此进入降级
func (r *Registry) ReportFailure(id SourceID, err error) bool {
	e, ok := r.sources.Load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.failures < r.degradeAfter {
		return false
	}
	e.failures = 0
	e.degradedUntil = r.now().Add(r.cooldown)
	r.log.Warn("source degraded", "id", id, "path", e.src.Path, "cooldown", r.cooldown, "err", err)
	return true
}

// ReportSuccess 解码成功后清零失败计数
func (r *Registry) ReportSuccess(id SourceID) {
	e, ok := r.sources.Load(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.failures = 0
	e.degradedUntil = time.Time{}
	e.mu.Unlock()
}

func (r *Registry) view(e *entry) Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.src
	src.Degraded = r.now().Before(e.degradedUntil)
	return src
}
