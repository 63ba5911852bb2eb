package http

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"net/url"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/metrics"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"github.com/jmehdipour/outreach-mailer/internal/tracking"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// pixelPNG is a transparent 1x1 image served for every open-tracking hit.
var pixelPNG = func() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

const (
	unsubscribedPage = `<!doctype html><html><head><meta charset="utf-8"><title>Unsubscribed</title></head>` +
		`<body><p>You have been unsubscribed and will not receive further emails.</p></body></html>`
	unsubscribeFailedPage = `<!doctype html><html><head><meta charset="utf-8"><title>Unsubscribe</title></head>` +
		`<body><p>We could not process this unsubscribe link. Please try again later.</p></body></html>`
	linkNotFoundPage = `<!doctype html><html><head><meta charset="utf-8"><title>Link not found</title></head>` +
		`<body><p>This link is no longer available.</p></body></html>`
)

// Tracking endpoints are public and never show internal errors: a bad token
// only means nothing is recorded.
type trackingHandler struct {
	records repository.SendRecordsRepository
	leads   repository.LeadsRepository
	clock   clock.Clock
	log     *zap.Logger
}

func tokenMatcher(t tracking.Token) model.Matcher {
	return model.Matcher{
		LeadID:         t.LeadID,
		CampaignLeadID: t.CampaignLeadID,
		CampaignStepID: t.CampaignStepID,
	}
}

func decodedLabel(err error) string {
	if err != nil {
		return "false"
	}
	return "true"
}

// GET /o.png?id=<token>
func (h *trackingHandler) pixel(c echo.Context) error {
	tok, err := tracking.Decode(c.QueryParam("id"))
	metrics.TrackingHitsTotal.WithLabelValues("open", decodedLabel(err)).Inc()
	if err != nil {
		h.log.Debug("open pixel with undecodable token", zap.Error(err))
	} else {
		now := h.clock.Now()
		if _, err := h.records.UpdateWhere(c.Request().Context(), tokenMatcher(tok), model.Patch{OpenedAt: &now}); err != nil {
			h.log.Warn("record open failed", zap.Int64("lead_id", tok.LeadID), zap.Error(err))
		}
	}

	c.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	return c.Blob(http.StatusOK, "image/png", pixelPNG)
}

// GET /r/:token?url=<fallback>
func (h *trackingHandler) redirect(c echo.Context) error {
	tok, err := tracking.Decode(c.Param("token"))
	metrics.TrackingHitsTotal.WithLabelValues("click", decodedLabel(err)).Inc()

	dest := ""
	if err == nil {
		dest = tok.OriginalURL
		now := h.clock.Now()
		if _, uerr := h.records.UpdateWhere(c.Request().Context(), tokenMatcher(tok), model.Patch{ClickedAt: &now}); uerr != nil {
			h.log.Warn("record click failed", zap.Int64("lead_id", tok.LeadID), zap.Error(uerr))
		}
	} else {
		h.log.Debug("click with undecodable token", zap.Error(err))
	}
	if !redirectable(dest) {
		dest = c.QueryParam("url")
	}
	if !redirectable(dest) {
		return c.HTML(http.StatusNotFound, linkNotFoundPage)
	}
	return c.Redirect(http.StatusFound, dest)
}

// redirectable allows absolute http(s) URLs only.
func redirectable(dest string) bool {
	if dest == "" {
		return false
	}
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// GET|POST /unsubscribe/:token (token or plain lead id)
func (h *trackingHandler) unsubscribe(c echo.Context) error {
	leadID, err := tracking.LeadIDFromPath(c.Param("token"))
	metrics.TrackingHitsTotal.WithLabelValues("unsubscribe", decodedLabel(err)).Inc()
	if err != nil {
		h.log.Info("unsubscribe with unrecognised id", zap.Error(err))
		return c.HTML(http.StatusBadRequest, unsubscribeFailedPage)
	}

	if err := h.leads.MarkUnsubscribed(c.Request().Context(), leadID); err != nil {
		h.log.Error("mark unsubscribed failed", zap.Int64("lead_id", leadID), zap.Error(err))
		return c.HTML(http.StatusInternalServerError, unsubscribeFailedPage)
	}
	return c.HTML(http.StatusOK, unsubscribedPage)
}
