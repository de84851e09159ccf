package routes

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/open-workshop/workshop-cache/internal/server"
	"github.com/open-workshop/workshop-cache/internal/stats"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15",
	"2006-01-02",
}

// parseDate 解析日期参数，空值返回 fallback；不带时区的值按 UTC 处理。
func parseDate(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("invalid date")
}

func dateRange(c fiber.Ctx) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start, err := parseDate(c.Query("start_date"), now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDate(c.Query("end_date"), now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func (h *handlers) delay(c fiber.Ctx) error {
	return c.JSON(h.deps.Stats.Delay())
}

func (h *handlers) hours(c fiber.Ctx) error {
	start, end, err := dateRange(c)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_date")
	}
	buckets, err := h.deps.Stats.Hours(c.Context(), start, end)
	if err != nil {
		return h.statsError(c, err)
	}
	return c.JSON(buckets)
}

func (h *handlers) days(c fiber.Ctx) error {
	start, end, err := dateRange(c)
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_date")
	}
	buckets, err := h.deps.Stats.Days(c.Context(), start, end)
	if err != nil {
		return h.statsError(c, err)
	}
	return c.JSON(buckets)
}

// infoAll 返回目录规模与各事件累计次数。
func (h *handlers) infoAll(c fiber.Ctx) error {
	counts, err := h.deps.Query.Summary(c.Context())
	if err != nil {
		return h.queryError(c, err)
	}
	totals, err := h.deps.Stats.Totals(c.Context())
	if err != nil {
		return h.statsError(c, err)
	}
	return c.JSON(fiber.Map{"catalog": counts, "events": totals})
}

func (h *handlers) typeMap(c fiber.Ctx) error {
	return c.JSON(stats.TypeMap(c.Query("lang")))
}

func (h *handlers) statsError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, stats.ErrHourRange):
		return server.WriteError(c, fiber.StatusPreconditionFailed, "hour_range_exceeded")
	case errors.Is(err, stats.ErrConflictingRange):
		return server.WriteError(c, fiber.StatusConflict, "conflicting_date_range")
	}
	return h.queryError(c, err)
}
