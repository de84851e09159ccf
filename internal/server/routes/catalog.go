package routes

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/open-workshop/workshop-cache/internal/query"
	"github.com/open-workshop/workshop-cache/internal/server"
)

const defaultPageSize = 10

func pagination(c fiber.Ctx) (query.Pagination, error) {
	page, err := intQuery(c, "page", 0)
	if err != nil {
		return query.Pagination{}, err
	}
	size, err := intQuery(c, "page_size", defaultPageSize)
	if err != nil {
		return query.Pagination{}, err
	}
	return query.Pagination{Page: page, PageSize: size}, nil
}

func intQuery(c fiber.Ctx, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// fields 读取字段选择开关，general 与 statistics 默认开启。
func fields(c fiber.Ctx) query.Fields {
	defaults := query.DefaultFields()
	return query.Fields{
		General:          fiber.Query[bool](c, "general", defaults.General),
		ShortDescription: fiber.Query[bool](c, "short_description", defaults.ShortDescription),
		Description:      fiber.Query[bool](c, "description", defaults.Description),
		Dates:            fiber.Query[bool](c, "dates", defaults.Dates),
		Dependencies:     fiber.Query[bool](c, "dependencies", defaults.Dependencies),
		Statistics:       fiber.Query[bool](c, "statistics", defaults.Statistics),
		Short:            fiber.Query[bool](c, "short", defaults.Short),
	}
}

// idLists 依次解析多个 id 列表参数，任一失败即返回错误。
func idLists(c fiber.Ctx, keys ...string) ([][]uint64, error) {
	out := make([][]uint64, len(keys))
	for i, key := range keys {
		ids, err := query.ParseIDs(c.Query(key))
		if err != nil {
			return nil, err
		}
		out[i] = ids
	}
	return out, nil
}

func (h *handlers) listMods(c fiber.Ctx) error {
	page, err := pagination(c)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_pagination")
	}
	lists, err := idLists(c, "tags", "games", "ids")
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id_list")
	}
	sources, err := query.ParseStrings(c.Query("primary_sources"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_sources")
	}
	res, err := h.deps.Query.Mods(c.Context(), query.ModsRequest{
		Pagination: page,
		Sort:       c.Query("sort"),
		Tags:       lists[0],
		Games:      lists[1],
		IDs:        lists[2],
		Sources:    sources,
		Name:       c.Query("name"),
		Fields:     fields(c),
	})
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(res)
}

func (h *handlers) listGames(c fiber.Ctx) error {
	page, err := pagination(c)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_pagination")
	}
	lists, err := idLists(c, "genres", "ids")
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id_list")
	}
	types, err := query.ParseStrings(c.Query("type_app"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_types")
	}
	sources, err := query.ParseStrings(c.Query("primary_sources"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_sources")
	}
	res, err := h.deps.Query.Games(c.Context(), query.GamesRequest{
		Pagination: page,
		Sort:       c.Query("sort"),
		Genres:     lists[0],
		IDs:        lists[1],
		Types:      types,
		Sources:    sources,
		Name:       c.Query("name"),
		Fields:     fields(c),
	})
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(res)
}

// listTags 列出某个游戏的标签，game_id 为 0 时列出全部。
func (h *handlers) listTags(c fiber.Ctx) error {
	gameID, err := strconv.ParseUint(c.Params("game_id"), 10, 64)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id")
	}
	page, err := pagination(c)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_pagination")
	}
	ids, err := query.ParseIDs(c.Query("ids"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id_list")
	}
	res, err := h.deps.Query.Tags(c.Context(), query.TagsRequest{Pagination: page, GameID: gameID, IDs: ids, Name: c.Query("name")})
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(res)
}

func (h *handlers) listGenres(c fiber.Ctx) error {
	page, err := pagination(c)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_pagination")
	}
	ids, err := query.ParseIDs(c.Query("ids"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id_list")
	}
	res, err := h.deps.Query.Genres(c.Context(), query.GenresRequest{Pagination: page, IDs: ids, Name: c.Query("name")})
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(res)
}

func (h *handlers) listResources(c fiber.Ctx) error {
	owners, err := query.ParseIDs(c.Params("ids"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id_list")
	}
	page, err := pagination(c)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_pagination")
	}
	types, err := query.ParseStrings(c.Query("types"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_types")
	}
	res, err := h.deps.Query.Resources(c.Context(), query.ResourcesRequest{Pagination: page, OwnerIDs: owners, Types: types})
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(res)
}

func (h *handlers) infoMod(c fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id")
	}
	view, err := h.deps.Query.Mod(c.Context(), id, fields(c))
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(view)
}

func (h *handlers) infoGame(c fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id")
	}
	view, err := h.deps.Query.Game(c.Context(), id, fields(c))
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(view)
}

// conditions 批量返回状态，ids 支持 "[1,2]" 与 "1,2" 两种写法。
func (h *handlers) conditions(c fiber.Ctx) error {
	ids, err := query.ParseIDs(c.Params("ids"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id_list")
	}
	res, err := h.deps.Query.Conditions(c.Context(), ids)
	if err != nil {
		return h.queryError(c, err)
	}
	return c.JSON(res)
}
