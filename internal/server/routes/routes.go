// Package routes registers the HTTP endpoints on the Fiber application built
// by the server package. Handlers are thin: they parse parameters, call the
// coordinator, query engine or statistics aggregator, and map sentinel errors
// to status codes.
package routes

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-workshop/workshop-cache/internal/coordinator"
	"github.com/open-workshop/workshop-cache/internal/metrics"
	"github.com/open-workshop/workshop-cache/internal/query"
	"github.com/open-workshop/workshop-cache/internal/server"
	"github.com/open-workshop/workshop-cache/internal/stats"
)

// Deps 汇总路由需要的服务。Metrics 可以为空。
type Deps struct {
	Coordinator *coordinator.Coordinator
	Query       *query.Engine
	Stats       *stats.Aggregator
	Metrics     *metrics.Metrics
	Logger      *logrus.Logger
	// PollInterval 写入排队响应的 Retry-After。
	PollInterval time.Duration
}

type handlers struct {
	deps Deps
}

// Register 把全部接口挂到 app 上。
func Register(app *fiber.App, deps Deps) {
	if app == nil {
		return
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	h := &handlers{deps: deps}

	app.Get("/", h.track(stats.EventDocsRedirect, func(c fiber.Ctx) error {
		return c.Redirect().To("/-/status")
	}))

	app.Get("/download/steam/:id", h.track(stats.EventSteamDownload, h.downloadSteam))
	app.Get("/download/:id", h.track(stats.EventLocalDownload, h.downloadLocal))

	app.Get("/list/mods/", h.track(stats.EventModsRequest, h.listMods))
	app.Get("/list/games/", h.track(stats.EventGamesRequest, h.listGames))
	app.Get("/list/tags/:game_id", h.track(stats.EventTagsRequest, h.listTags))
	app.Get("/list/genres", h.track(stats.EventGenresRequest, h.listGenres))
	app.Get("/list/resources_mods/:ids", h.track(stats.EventResourcesRequest, h.listResources))

	app.Get("/info/mod/:id", h.track(stats.EventInfoModRequest, h.infoMod))
	app.Get("/info/game/:id", h.track(stats.EventInfoGameRequest, h.infoGame))
	app.Get("/condition/mod/:ids", h.track(stats.EventConditionRequest, h.conditions))

	app.Get("/statistics/delay", h.track(stats.EventDelayRequest, h.delay))
	app.Get("/statistics/hour", h.track(stats.EventHourRequest, h.hours))
	app.Get("/statistics/day", h.track(stats.EventDayRequest, h.days))
	app.Get("/statistics/info/all", h.track(stats.EventInfoAllRequest, h.infoAll))
	app.Get("/statistics/info/type_map", h.track(stats.EventTypeMapRequest, h.typeMap))

	registerDiagnostics(app, h)
}

// track 在处理前记录接口对应的统计事件。
func (h *handlers) track(event string, next fiber.Handler) fiber.Handler {
	return func(c fiber.Ctx) error {
		if h.deps.Stats != nil {
			h.deps.Stats.Increment(event)
		}
		return next(c)
	}
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// queryError 把查询引擎的哨兵错误映射为状态码。
func (h *handlers) queryError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, query.ErrPageSize):
		return server.WriteError(c, fiber.StatusRequestEntityTooLarge, "page_size_invalid")
	case errors.Is(err, query.ErrFilterComplexity):
		return server.WriteError(c, fiber.StatusRequestEntityTooLarge, "filter_complexity_exceeded")
	case errors.Is(err, query.ErrArraySize):
		return server.WriteError(c, fiber.StatusRequestEntityTooLarge, "array_size_invalid")
	case errors.Is(err, query.ErrPage):
		return server.WriteError(c, fiber.StatusBadRequest, "page_invalid")
	case errors.Is(err, query.ErrUnknownSort):
		return server.WriteError(c, fiber.StatusBadRequest, "sort_invalid")
	}
	h.deps.Logger.WithFields(logrus.Fields{
		"action":     "query",
		"request_id": server.RequestID(c),
		"path":       c.Path(),
	}).WithError(err).Error("query_failed")
	return server.WriteError(c, fiber.StatusInternalServerError, "internal_error")
}
