package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/open-workshop/workshop-cache/internal/upstream"
	"github.com/open-workshop/workshop-cache/internal/version"
)

// registerDiagnostics 暴露 /-/ 前缀下的运维接口，不计入统计。
func registerDiagnostics(app *fiber.App, h *handlers) {
	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": version.Full(),
			"status":  h.deps.Coordinator.Status(),
		})
	})

	app.Get("/-/sources", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"sources": encodeSources(upstream.List())})
	})

	if h.deps.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(h.deps.Metrics.Handler()))
	}
}

type sourcePayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

func encodeSources(sources []upstream.Source) []sourcePayload {
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Key < sources[j].Key
	})
	result := make([]sourcePayload, 0, len(sources))
	for _, src := range sources {
		result = append(result, sourcePayload{Key: src.Key, Description: src.Description})
	}
	return result
}
