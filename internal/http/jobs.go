package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmehdipour/outreach-mailer/internal/http/middleware"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// maxJobsPerRequest caps one enqueue call.
const maxJobsPerRequest = 500

type jobEnqueuer interface {
	Enqueue(ctx context.Context, jobs ...model.SendJob) ([]string, error)
}

type sendJobsReq struct {
	Jobs []model.SendJob `json:"jobs"`
}

func sendJobsHandler(svc jobEnqueuer, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendJobsReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if len(req.Jobs) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "jobs is empty"})
		}
		if len(req.Jobs) > maxJobsPerRequest {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "too many jobs"})
		}

		ids, err := svc.Enqueue(c.Request().Context(), req.Jobs...)
		if err != nil {
			if errors.Is(err, model.ErrInvalidJob) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			client, _ := middleware.ClientFromCtx(c)
			log.Error("enqueue failed", zap.String("client", client), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued": len(ids),
			"ids":      ids,
		})
	}
}
