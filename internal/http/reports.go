package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func stepIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func listStepSendsHandler(chRepo repository.CHSendRecordsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		stepID, ok := stepIDParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid step id"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var et model.EventType
		if raw := strings.ToUpper(strings.TrimSpace(c.QueryParam("event_type"))); raw != "" {
			tmp := model.EventType(raw)
			if !tmp.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event_type"})
			}
			et = tmp
		}

		recs, err := chRepo.ListByStep(c.Request().Context(), stepID, et, limit, offset)
		if err != nil {
			log.Error("clickhouse list failed", zap.Int64("campaign_step_id", stepID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(recs),
			"results": recs,
		})
	}
}

func stepStatsHandler(chRepo repository.CHSendRecordsRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		stepID, ok := stepIDParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid step id"})
		}
		stats, err := chRepo.StatsByStep(c.Request().Context(), stepID)
		if err != nil {
			log.Error("clickhouse stats failed", zap.Int64("campaign_step_id", stepID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, stats)
	}
}
