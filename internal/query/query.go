// Package query is the read-only catalog surface: paginated, filtered and
// sorted listings over mods, games, tags, genres and resources, plus point
// lookups and batch condition queries. It validates request limits before
// anything reaches the database.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

const (
	// MaxPageSize 是单页条目上限。
	MaxPageSize = 50
	// MaxFilterElements 是全部过滤集合元素数之和的上限。
	MaxFilterElements = 30
	// MaxConditionIDs 是批量状态查询的 id 上限。
	MaxConditionIDs = 50
	// ShortLength 是 short=true 时描述的最大字符数。
	ShortLength = 256
)

var (
	ErrPageSize         = errors.New("page_size must be between 1 and 50")
	ErrPage             = errors.New("page must not be negative")
	ErrFilterComplexity = errors.New("too many filter elements")
	ErrArraySize        = errors.New("id list must contain between 1 and 50 elements")
	ErrUnknownSort      = errors.New("unknown sort key")
)

// Catalog 是查询引擎依赖的只读存储，由 storage/sqlite 实现。
type Catalog interface {
	ListMods(ctx context.Context, filter storage.ModFilter) ([]storage.Mod, int64, error)
	ListGames(ctx context.Context, filter storage.GameFilter) ([]storage.Game, int64, error)
	ListTags(ctx context.Context, filter storage.TagFilter) ([]storage.Tag, int64, error)
	ListGenres(ctx context.Context, filter storage.GenreFilter) ([]storage.Genre, int64, error)
	ListResources(ctx context.Context, filter storage.ResourceFilter) ([]storage.Resource, int64, error)
	GetMod(ctx context.Context, id uint64) (storage.Mod, error)
	GetGame(ctx context.Context, id uint64) (storage.Game, error)
	Conditions(ctx context.Context, ids []uint64) (map[uint64]int, error)
	Counts(ctx context.Context) (storage.Counts, error)
}

// Engine 执行校验并转发到 Catalog。
type Engine struct {
	catalog Catalog
}

// New 构建查询引擎。
func New(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Pagination 是列表请求的分页参数，Page 从 0 开始。
type Pagination struct {
	Page     int
	PageSize int
}

func (p Pagination) page() (storage.Page, error) {
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		return storage.Page{}, ErrPageSize
	}
	if p.Page < 0 {
		return storage.Page{}, ErrPage
	}
	return storage.Page{Offset: p.Page * p.PageSize, Limit: p.PageSize}, nil
}

// Result 是列表接口的响应结构。
type Result struct {
	Database []map[string]any `json:"database"`
	Results  int64            `json:"results"`
}

func checkFilterSize(sizes ...int) error {
	total := 0
	for _, n := range sizes {
		total += n
	}
	if total > MaxFilterElements {
		return fmt.Errorf("%w: %d > %d", ErrFilterComplexity, total, MaxFilterElements)
	}
	return nil
}

// Truncate 在超过 limit 个字符时截断并追加 "..."。
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:limit]), " ") + "..."
}

// Conditions 批量返回条目状态，键为字符串形式的 id；未知 id 不出现在结果中。
func (e *Engine) Conditions(ctx context.Context, ids []uint64) (map[string]int, error) {
	if len(ids) < 1 || len(ids) > MaxConditionIDs {
		return nil, ErrArraySize
	}
	conditions, err := e.catalog.Conditions(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(conditions))
	for id, c := range conditions {
		out[formatID(id)] = c
	}
	return out, nil
}

// Summary 返回目录规模统计。
func (e *Engine) Summary(ctx context.Context) (storage.Counts, error) {
	return e.catalog.Counts(ctx)
}
