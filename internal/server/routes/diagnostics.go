package routes

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/Rjbeckwith55/app/internal/gatekeeper"
	"github.com/Rjbeckwith55/app/internal/server"
)

// Gatekeeper 是诊断接口依赖的网关能力子集，测试中可替换。
type Gatekeeper interface {
	CacheName() string
	Activate(ctx context.Context) error
	Inspect(ctx context.Context) ([]gatekeeper.CacheSummary, error)
	ResourceSnapshot() gatekeeper.ResourceSnapshot
}

// DiagnosticsOptions 控制诊断接口的暴露范围。
type DiagnosticsOptions struct {
	// ActivateToken 为空时不注册 POST /-/activate；否则请求需携带 Authorization: Bearer <token>。
	ActivateToken string
}

// RegisterDiagnosticsRoutes 暴露 /-/caches、/-/resources，以及受令牌保护的 POST /-/activate。
func RegisterDiagnosticsRoutes(app *fiber.App, gk Gatekeeper, logger *logrus.Logger, opts DiagnosticsOptions) {
	if app == nil || gk == nil {
		return
	}

	app.Get("/-/caches", func(c fiber.Ctx) error {
		summaries, err := gk.Inspect(c.Context())
		if err != nil {
			logger.WithError(err).WithField("action", "inspect").Warn("inspect_failed")
			return server.WriteError(c, fiber.StatusInternalServerError, "inspect_failed")
		}
		return c.JSON(fiber.Map{
			"managed": gk.CacheName(),
			"caches":  summaries,
		})
	})

	app.Get("/-/resources", func(c fiber.Ctx) error {
		return c.JSON(gk.ResourceSnapshot())
	})

	if opts.ActivateToken == "" {
		return
	}

	app.Post("/-/activate", func(c fiber.Ctx) error {
		if !bearerMatches(c.Get(fiber.HeaderAuthorization), opts.ActivateToken) {
			logger.WithFields(logrus.Fields{
				"action":     "activate_request",
				"request_id": server.RequestID(c),
			}).Warn("activate_request_unauthorized")
			return server.WriteError(c, fiber.StatusUnauthorized, "unauthorized")
		}
		started := time.Now()
		err := gk.Activate(c.Context())
		fields := logrus.Fields{
			"action":     "activate_request",
			"request_id": server.RequestID(c),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("activate_request_failed")
			code := "activate_failed"
			if errors.Is(err, gatekeeper.ErrPopulate) {
				code = "populate_failed"
			}
			return server.WriteError(c, fiber.StatusInternalServerError, code)
		}
		logger.WithFields(fields).Info("activate_request_complete")
		return c.JSON(fiber.Map{"activated": gk.CacheName()})
	})
}

func bearerMatches(header, token string) bool {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	presented := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
