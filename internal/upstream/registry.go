package upstream

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Source 记录一个来源的静态信息及构造函数，供配置校验和诊断端使用。
type Source struct {
	Key         string
	Description string
	New         func(opts Options) (Fetcher, error)
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func newRegistry() *registry {
	return &registry{sources: make(map[string]Source)}
}

// Register 将来源加入全局注册表，重复键会返回错误。
func Register(src Source) error {
	return globalRegistry.register(src)
}

// MustRegister 在注册失败时 panic，适合来源 init() 中调用。
func MustRegister(src Source) {
	if err := Register(src); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的来源。
func Resolve(key string) (Source, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的来源列表。
func List() []Source {
	return globalRegistry.list()
}

// Keys 返回所有已注册来源的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, src := range items {
		result[i] = src.Key
	}
	return result
}

// New 根据键构造 Fetcher。
func New(key string, opts Options) (Fetcher, error) {
	src, ok := Resolve(key)
	if !ok {
		return nil, fmt.Errorf("source %s not registered (available: %s)", key, strings.Join(Keys(), ","))
	}
	return src.New(opts)
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(src Source) error {
	key := normalizeKey(src.Key)
	if key == "" {
		return fmt.Errorf("source key is required")
	}
	if src.New == nil {
		return fmt.Errorf("source %s has no constructor", key)
	}
	src.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[key]; exists {
		return fmt.Errorf("source %s already registered", key)
	}
	r.sources[key] = src
	return nil
}

func (r *registry) resolve(key string) (Source, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Source{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[normalized]
	return src, ok
}

func (r *registry) list() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.sources))
	for key := range r.sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Source, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.sources[key])
	}
	return result
}
