package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/outreach-mailer/internal/tracking"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// maxLinksPerRequest caps the redirect URLs built in one call.
const maxLinksPerRequest = 100

type trackingLinksReq struct {
	LeadID         int64    `json:"lead_id"`
	CampaignLeadID int64    `json:"campaign_lead_id"`
	CampaignStepID int64    `json:"campaign_step_id"`
	URLs           []string `json:"urls"`
}

// trackingLinksHandler returns the pixel, unsubscribe and click URLs a template
// embeds for one (lead, step) pair.
func trackingLinksHandler(links tracking.Links, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req trackingLinksReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.LeadID <= 0 || req.CampaignLeadID <= 0 || req.CampaignStepID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "lead_id, campaign_lead_id and campaign_step_id must be positive"})
		}
		if len(req.URLs) > maxLinksPerRequest {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "too many urls"})
		}

		tok := tracking.Token{LeadID: req.LeadID, CampaignLeadID: req.CampaignLeadID, CampaignStepID: req.CampaignStepID}
		pixel, err := links.Pixel(tok)
		if err != nil {
			log.Error("build pixel link", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "encode failed"})
		}
		unsub, err := links.Unsubscribe(tok)
		if err != nil {
			log.Error("build unsubscribe link", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "encode failed"})
		}

		redirects := make(map[string]string, len(req.URLs))
		for _, dest := range req.URLs {
			if !redirectable(dest) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "url must be absolute http(s): " + dest})
			}
			r, err := links.Redirect(tok, dest)
			if errors.Is(err, tracking.ErrInvalidURL) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			if err != nil {
				log.Error("build redirect link", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "encode failed"})
			}
			redirects[dest] = r
		}

		return c.JSON(http.StatusOK, map[string]any{
			"pixel":       pixel,
			"unsubscribe": unsub,
			"redirects":   redirects,
		})
	}
}
