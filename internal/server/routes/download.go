package routes

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-workshop/workshop-cache/internal/coordinator"
	"github.com/open-workshop/workshop-cache/internal/server"
)

const artifactExt = ".zip"

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// statusPayload 是排队类结果的响应体，code 携带 202/102/103。
type statusPayload struct {
	Code                 int  `json:"code"`
	UnsuccessfulAttempts bool `json:"unsuccessful_attempts"`
	Updating             bool `json:"updating"`
}

// downloadSteam 按上游 id 提供产物，未缓存时排队抓取。
func (h *handlers) downloadSteam(c fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id")
	}
	started := time.Now()
	out, err := h.deps.Coordinator.Request(c.Context(), id)
	if err != nil {
		return h.downloadFailed(c, id, err)
	}

	switch out.Kind {
	case coordinator.Served:
		return h.sendArtifact(c, id, out, started)
	case coordinator.Queued, coordinator.AlreadyProcessing, coordinator.NotReady:
		if h.deps.PollInterval > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(h.deps.PollInterval.Seconds())))
		}
		return c.Status(fiber.StatusAccepted).JSON(statusPayload{
			Code:                 out.Kind.Code(),
			UnsuccessfulAttempts: out.Job.Unsuccessful,
			Updating:             out.Job.Updating,
		})
	case coordinator.Damaged:
		return server.WriteError(c, fiber.StatusNotFound, "damaged")
	default:
		return server.WriteError(c, fiber.StatusNotFound, "not_found")
	}
}

// downloadLocal 只提供已缓存的产物。
func (h *handlers) downloadLocal(c fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_id")
	}
	started := time.Now()
	out, err := h.deps.Coordinator.Serve(c.Context(), id)
	if err != nil {
		return h.downloadFailed(c, id, err)
	}
	switch out.Kind {
	case coordinator.Served:
		return h.sendArtifact(c, id, out, started)
	case coordinator.Damaged:
		return server.WriteError(c, fiber.StatusNotFound, "damaged")
	default:
		return server.WriteError(c, fiber.StatusNotFound, "not_on_server")
	}
}

func (h *handlers) sendArtifact(c fiber.Ctx, id uint64, out coordinator.Outcome, started time.Time) error {
	artifact := out.Artifact
	defer artifact.Reader.Close()

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, downloadName(c.Query("filename"), id)))
	if artifact.Entry.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(artifact.Entry.SizeBytes))
	}
	c.Status(fiber.StatusOK)

	_, err := io.Copy(c.Response().BodyWriter(), artifact.Reader)
	fields := logrus.Fields{
		"action":     "download",
		"request_id": server.RequestID(c),
		"item_id":    id,
		"game_id":    out.Item.GameID,
		"bytes":      artifact.Entry.SizeBytes,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		h.deps.Logger.WithFields(fields).WithError(err).Error("artifact_send_failed")
		return fiber.NewError(fiber.StatusInternalServerError, "artifact_send_failed")
	}
	h.deps.Logger.WithFields(fields).Info("artifact_sent")
	return nil
}

func (h *handlers) downloadFailed(c fiber.Ctx, id uint64, err error) error {
	h.deps.Logger.WithFields(logrus.Fields{
		"action":     "download",
		"request_id": server.RequestID(c),
		"item_id":    id,
	}).WithError(err).Error("download_failed")
	return server.WriteError(c, fiber.StatusInternalServerError, "internal_error")
}

// downloadName 清洗客户端给出的文件名，只保留 [A-Za-z0-9_-]，扩展名固定为 .zip。
func downloadName(requested string, id uint64) string {
	name := unsafeFilename.ReplaceAllString(strings.TrimSuffix(requested, filepath.Ext(requested)), "")
	if len(name) > 128 {
		name = name[:128]
	}
	if name == "" {
		name = strconv.FormatUint(id, 10)
	}
	return name + artifactExt
}
