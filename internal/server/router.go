package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/commode/commode/internal/logging"
)

// AppOptions controls how the Cabinet Fiber application behaves.
type AppOptions struct {
	Logger   *logrus.Logger
	Backend  *Backend
	Recorder *Recorder

	// EchoValidators makes PUT responses carry ETag/Last-Modified so clients
	// can skip the follow-up HEAD request.
	EchoValidators bool
}

const contextKeyRequestID = "_commode_request_id"

// NewApp builds a Fiber application serving the Cabinet protocol from an
// in-memory Backend, with panic recovery and request-ID middleware.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("backend is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	h := &handler{backend: opts.Backend, echo: opts.EchoValidators}
	app.All("/*", h.dispatch)

	return app, nil
}

// requestContextMiddleware 沿用客户端的 X-Request-ID（缺失时生成），记录请求并输出访问日志。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get(RequestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set(RequestIDHeader, reqID)

		if opts.Recorder != nil {
			opts.Recorder.record(c, reqID)
		}

		started := time.Now()
		err := c.Next()

		path := string(c.Request().URI().PathOriginal())
		opts.Logger.WithFields(logging.RequestFields(c.Method(), path, reqID)).
			WithFields(logrus.Fields{
				"action":  "cabinet_request",
				"status":  c.Response().StatusCode(),
				"elapsed": time.Since(started).String(),
			}).Debug("cabinet request served")
		return err
	}
}

// RequestIDHeader carries the request identifier between client and server.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

type handler struct {
	backend *Backend
	echo    bool
}

// dispatch 根据路径前缀（files/dirs/boilerplates）与方法分派请求。
func (h *handler) dispatch(c fiber.Ctx) error {
	raw := strings.TrimPrefix(string(c.Request().URI().PathOriginal()), "/")
	prefix, rest, hasName := strings.Cut(raw, "/")
	name, err := url.PathUnescape(rest)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("malformed resource name")
	}

	switch prefix {
	case "files":
		if !hasName {
			break
		}
		return h.files(c, name)
	case "dirs":
		return h.dirs(c, name)
	case "boilerplates":
		if !hasName || name == "" {
			if c.Method() != fiber.MethodGet {
				return c.SendStatus(fiber.StatusMethodNotAllowed)
			}
			return c.JSON(h.backend.BoilerplateNames())
		}
		return h.boilerplates(c, name)
	}
	return c.Status(fiber.StatusNotFound).SendString("unknown resource " + raw)
}

func (h *handler) files(c fiber.Ctx, name string) error {
	cond := conditionsOf(c)
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead:
		res, err := h.backend.ReadFile(name, cond)
		return h.sendResource(c, res, err, "text/plain; charset=utf-8")
	case fiber.MethodPut:
		res, created, err := h.backend.WriteFile(name, c.Body(), cond)
		return h.sendWrite(c, res, created, err)
	case fiber.MethodDelete:
		return h.sendDelete(c, h.backend.DeleteFile(name, cond))
	}
	return c.SendStatus(fiber.StatusMethodNotAllowed)
}

func (h *handler) dirs(c fiber.Ctx, name string) error {
	switch c.Method() {
	case fiber.MethodGet:
		entries, err := h.backend.ListDir(name)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(entries)
	case fiber.MethodPut:
		created, err := h.backend.MakeDir(name)
		if err != nil {
			return sendError(c, err)
		}
		if created {
			return c.SendStatus(fiber.StatusCreated)
		}
		return c.SendStatus(fiber.StatusNoContent)
	case fiber.MethodDelete:
		return h.sendDelete(c, h.backend.RemoveDir(name))
	}
	return c.SendStatus(fiber.StatusMethodNotAllowed)
}

func (h *handler) boilerplates(c fiber.Ctx, name string) error {
	cond := conditionsOf(c)
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead:
		res, err := h.backend.ReadBoilerplate(name, cond)
		return h.sendResource(c, res, err, fiber.MIMEApplicationJSON)
	case fiber.MethodPut:
		res, created, err := h.backend.WriteBoilerplate(name, c.Body(), cond)
		return h.sendWrite(c, res, created, err)
	case fiber.MethodDelete:
		return h.sendDelete(c, h.backend.DeleteBoilerplate(name, cond))
	}
	return c.SendStatus(fiber.StatusMethodNotAllowed)
}

func (h *handler) sendResource(c fiber.Ctx, res Resource, err error, contentType string) error {
	var status *StatusError
	if errors.As(err, &status) && status.Code == fiber.StatusNotModified {
		setValidators(c, res)
		return c.SendStatus(fiber.StatusNotModified)
	}
	if err != nil {
		return sendError(c, err)
	}
	setValidators(c, res)
	c.Set(fiber.HeaderContentType, contentType)
	return c.Status(fiber.StatusOK).Send(res.Content)
}

func (h *handler) sendWrite(c fiber.Ctx, res Resource, created bool, err error) error {
	if err != nil {
		return sendError(c, err)
	}
	if h.echo {
		setValidators(c, res)
	}
	if created {
		return c.SendStatus(fiber.StatusCreated)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) sendDelete(c fiber.Ctx, err error) error {
	if err != nil {
		return sendError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func sendError(c fiber.Ctx, err error) error {
	var status *StatusError
	if errors.As(err, &status) {
		if status.Message == "" {
			return c.SendStatus(status.Code)
		}
		return c.Status(status.Code).SendString(status.Message)
	}
	return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
}

func setValidators(c fiber.Ctx, res Resource) {
	c.Set(fiber.HeaderETag, res.ETag)
	c.Set(fiber.HeaderLastModified, res.Modified.UTC().Format(http.TimeFormat))
}

func conditionsOf(c fiber.Ctx) Conditions {
	return Conditions{
		IfMatch:           c.Get(fiber.HeaderIfMatch),
		IfNoneMatch:       c.Get(fiber.HeaderIfNoneMatch),
		IfModifiedSince:   parseHTTPTime(c.Get(fiber.HeaderIfModifiedSince)),
		IfUnmodifiedSince: parseHTTPTime(c.Get(fiber.HeaderIfUnmodifiedSince)),
	}
}
