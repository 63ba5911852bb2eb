package http

import (
	"net/http"

	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/queue"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// webhookHandler hands provider callbacks to the webhook lane. Events are keyed by
// provider message id so callbacks for one message stay on one partition.
func webhookHandler(pub queue.Publisher[model.WebhookEvent], log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var ev model.WebhookEvent
		if err := c.Bind(&ev); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if err := pub.Publish(c.Request().Context(), ev.Data.ProviderMessageID, ev); err != nil {
			log.Error("publish webhook failed", zap.String("type", ev.Type), zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "try again later"})
		}
		return c.JSON(http.StatusAccepted, map[string]bool{"accepted": true})
	}
}
