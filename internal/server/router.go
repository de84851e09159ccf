package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/open-workshop/workshop-cache/internal/logging"
	"github.com/open-workshop/workshop-cache/internal/telemetry"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	// AccessLog 为 false 时不输出逐请求日志，测试中常用。
	AccessLog bool
	// Tracer 为空时使用全局 provider 下的 tracer。
	Tracer trace.Tracer
}

// untracedPrefixes 列出不产生 server span 的路径，指标抓取过于频繁。
var untracedPrefixes = []string{"/-/metrics"}

const contextKeyRequestID = "_workshop_request_id"

// NewApp builds a Fiber application with request-id, CORS, panic recovery
// and structured error handling. Routes are registered by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		ExposeHeaders: []string{fiber.HeaderContentType, fiber.HeaderContentDisposition},
	}))
	app.Use(requestContextMiddleware(opts))
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	app.Use(tracingMiddleware(tracer))

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()
		if !opts.AccessLog {
			return err
		}
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		fields := logging.RequestFields(reqID, c.Method(), c.Path(), status)
		fields["action"] = "http_request"
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		if err != nil {
			opts.Logger.WithFields(fields).WithError(err).Warn("request_failed")
			return err
		}
		opts.Logger.WithFields(fields).Info("request_complete")
		return nil
	}
}

// tracingMiddleware 为每个请求开启 server span，继承上游传入的 trace 上下文，
// 结束时记录路由、状态码与请求 ID。
func tracingMiddleware(tracer trace.Tracer) fiber.Handler {
	return func(c fiber.Ctx) error {
		path := c.Path()
		for _, prefix := range untracedPrefixes {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		header := make(http.Header)
		for key, values := range c.GetReqHeaders() {
			for _, value := range values {
				header.Add(key, value)
			}
		}
		ctx := otel.GetTextMapPropagator().Extract(c.Context(), propagation.HeaderCarrier(header))
		method := c.Method()
		ctx, span := tracer.Start(ctx, method+" "+path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.URLPath(path),
			),
		)
		defer span.End()
		c.SetContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		route := c.Route().Path
		if !c.Matched() {
			route = "unmatched"
		}
		span.SetName(method + " " + route)
		span.SetAttributes(
			semconv.HTTPRoute(route),
			semconv.HTTPResponseStatusCode(status),
			attribute.String("workshop.request_id", RequestID(c)),
		)
		if status >= fiber.StatusInternalServerError {
			if err != nil {
				span.RecordError(err)
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		return err
	}
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			code = fe.Message
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{"action": "http_request", "request_id": RequestID(c), "path": c.Path()}).
				WithError(err).Error("request_error")
			code = "internal_error"
		}
		return WriteError(c, status, code)
	}
}

// WriteError 输出 {"error": code} 形式的错误响应。
func WriteError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
