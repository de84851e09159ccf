package query

import (
	"context"
	"errors"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

// Fields 选择响应中包含的字段组，id 总是包含。
type Fields struct {
	General          bool
	ShortDescription bool
	Description      bool
	Dates            bool
	Dependencies     bool
	Statistics       bool
	// Short 为 true 时描述截断到 ShortLength 个字符。
	Short bool
}

// DefaultFields 是未显式指定时的字段组合。
func DefaultFields() Fields {
	return Fields{General: true, Statistics: true}
}

// ModsRequest 是 /list/mods/ 的参数。
type ModsRequest struct {
	Pagination
	Sort    string
	Tags    []uint64
	Games   []uint64
	IDs     []uint64
	Sources []string
	Name    string
	Fields  Fields
}

// Mods 返回一页模组。
func (e *Engine) Mods(ctx context.Context, req ModsRequest) (Result, error) {
	page, err := req.page()
	if err != nil {
		return Result{}, err
	}
	if err := checkFilterSize(len(req.Tags), len(req.Games), len(req.IDs), len(req.Sources)); err != nil {
		return Result{}, err
	}
	sort, err := parseSort(req.Sort, modSortKeys, "MOD_DOWNLOADS")
	if err != nil {
		return Result{}, err
	}
	mods, total, err := e.catalog.ListMods(ctx, storage.ModFilter{
		Page:             page,
		Sort:             sort,
		IDs:              req.IDs,
		Tags:             req.Tags,
		Games:            req.Games,
		Sources:          req.Sources,
		Name:             req.Name,
		WithDependencies: req.Fields.Dependencies,
	})
	if err != nil {
		return Result{}, err
	}
	out := make([]map[string]any, 0, len(mods))
	for _, mod := range mods {
		out = append(out, modView(mod, req.Fields))
	}
	return Result{Database: out, Results: total}, nil
}

func modView(mod storage.Mod, f Fields) map[string]any {
	view := map[string]any{"id": mod.ID}
	if f.General {
		view["name"] = mod.Name
		view["size"] = mod.Size
		view["source"] = mod.Source
		view["game"] = mod.GameID
		view["condition"] = mod.Condition
	}
	if f.Statistics {
		view["downloads"] = mod.Downloads
	}
	if f.ShortDescription {
		view["short_description"] = describe(mod.ShortDescription, f.Short)
	}
	if f.Description {
		view["description"] = describe(mod.Description, f.Short)
	}
	if f.Dates {
		view["date_creation"] = mod.CreatedAt
		view["date_update"] = mod.UpdatedAt
		view["date_request"] = mod.RequestedAt
	}
	if f.Dependencies {
		deps := mod.Dependencies
		if deps == nil {
			deps = []uint64{}
		}
		view["dependencies"] = deps
	}
	return view
}

func describe(text string, short bool) string {
	if short {
		return Truncate(text, ShortLength)
	}
	return text
}

// GamesRequest 是 /list/games/ 的参数。
type GamesRequest struct {
	Pagination
	Sort    string
	Genres  []uint64
	IDs     []uint64
	Types   []string
	Sources []string
	Name    string
	Fields  Fields
}

// Games 返回一页游戏。
func (e *Engine) Games(ctx context.Context, req GamesRequest) (Result, error) {
	page, err := req.page()
	if err != nil {
		return Result{}, err
	}
	if err := checkFilterSize(len(req.Genres), len(req.IDs), len(req.Types), len(req.Sources)); err != nil {
		return Result{}, err
	}
	sort, err := parseSort(req.Sort, gameSortKeys, "MOD_DOWNLOADS")
	if err != nil {
		return Result{}, err
	}
	games, total, err := e.catalog.ListGames(ctx, storage.GameFilter{
		Page:    page,
		Sort:    sort,
		IDs:     req.IDs,
		Genres:  req.Genres,
		Types:   req.Types,
		Sources: req.Sources,
		Name:    req.Name,
	})
	if err != nil {
		return Result{}, err
	}
	out := make([]map[string]any, 0, len(games))
	for _, game := range games {
		out = append(out, gameView(game, req.Fields))
	}
	return Result{Database: out, Results: total}, nil
}

func gameView(game storage.Game, f Fields) map[string]any {
	view := map[string]any{"id": game.ID}
	if f.General {
		view["name"] = game.Name
		view["type"] = game.Type
		view["logo"] = game.Logo
		view["source"] = game.Source
		genres := game.Genres
		if genres == nil {
			genres = []uint64{}
		}
		view["genres"] = genres
	}
	if f.Statistics {
		view["mods_downloads"] = game.ModsDownloads
		view["mods_count"] = game.ModsCount
	}
	if f.ShortDescription {
		view["short_description"] = describe(game.ShortDescription, f.Short)
	}
	if f.Description {
		view["description"] = describe(game.Description, f.Short)
	}
	if f.Dates {
		view["creation_date"] = game.CreatedAt
	}
	return view
}

// TagsRequest 是 /list/tags/:game_id 的参数，GameID 为 0 时列出全部标签。
type TagsRequest struct {
	Pagination
	GameID uint64
	IDs    []uint64
	Name   string
}

// Tags 返回一页标签。
func (e *Engine) Tags(ctx context.Context, req TagsRequest) (Result, error) {
	page, err := req.page()
	if err != nil {
		return Result{}, err
	}
	if err := checkFilterSize(len(req.IDs)); err != nil {
		return Result{}, err
	}
	tags, total, err := e.catalog.ListTags(ctx, storage.TagFilter{Page: page, GameID: req.GameID, IDs: req.IDs, Name: req.Name})
	if err != nil {
		return Result{}, err
	}
	out := make([]map[string]any, 0, len(tags))
	for _, tag := range tags {
		out = append(out, map[string]any{"id": tag.ID, "name": tag.Name})
	}
	return Result{Database: out, Results: total}, nil
}

// GenresRequest 是 /list/genres 的参数。
type GenresRequest struct {
	Pagination
	IDs  []uint64
	Name string
}

// Genres 返回一页类型。
func (e *Engine) Genres(ctx context.Context, req GenresRequest) (Result, error) {
	page, err := req.page()
	if err != nil {
		return Result{}, err
	}
	if err := checkFilterSize(len(req.IDs)); err != nil {
		return Result{}, err
	}
	genres, total, err := e.catalog.ListGenres(ctx, storage.GenreFilter{Page: page, IDs: req.IDs, Name: req.Name})
	if err != nil {
		return Result{}, err
	}
	out := make([]map[string]any, 0, len(genres))
	for _, genre := range genres {
		out = append(out, map[string]any{"id": genre.ID, "name": genre.Name})
	}
	return Result{Database: out, Results: total}, nil
}

// ResourcesRequest 是 /list/resources_mods/:ids 的参数。
type ResourcesRequest struct {
	Pagination
	OwnerIDs []uint64
	Types    []string
}

// Resources 返回一页模组资源。
func (e *Engine) Resources(ctx context.Context, req ResourcesRequest) (Result, error) {
	page, err := req.page()
	if err != nil {
		return Result{}, err
	}
	if len(req.OwnerIDs) < 1 || len(req.OwnerIDs) > MaxPageSize {
		return Result{}, ErrArraySize
	}
	if err := checkFilterSize(len(req.OwnerIDs), len(req.Types)); err != nil {
		return Result{}, err
	}
	resources, total, err := e.catalog.ListResources(ctx, storage.ResourceFilter{Page: page, OwnerIDs: req.OwnerIDs, Types: req.Types})
	if err != nil {
		return Result{}, err
	}
	out := make([]map[string]any, 0, len(resources))
	for _, r := range resources {
		out = append(out, map[string]any{
			"id":         r.ID,
			"type":       r.Type,
			"url":        r.URL,
			"owner_id":   r.OwnerID,
			"date_event": r.UpdatedAt,
		})
	}
	return Result{Database: out, Results: total}, nil
}

// Mod 返回单个模组视图，不存在时返回 nil。
func (e *Engine) Mod(ctx context.Context, id uint64, f Fields) (map[string]any, error) {
	mod, err := e.catalog.GetMod(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return modView(mod, f), nil
}

// Game 返回单个游戏视图，不存在时返回 nil。
func (e *Engine) Game(ctx context.Context, id uint64, f Fields) (map[string]any, error) {
	game, err := e.catalog.GetGame(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return gameView(game, f), nil
}
