package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yaoshining/horizon/docstore"

	"github.com/labstack/echo/v4"
)

type Dependencies struct {
	MetricsHandler http.Handler
	AppMetrics     docstore.AppMetrics
	Upsert         func(context.Context, docstore.Caller, string, []docstore.Document) ([]docstore.Result, error)
	Get            func(context.Context, string, string) (docstore.Document, error)
	MaxBatch       int
	Logger         *slog.Logger
}

type upsertRequest struct {
	Data []docstore.Document `json:"data"`
}

type upsertResponse struct {
	Data []map[string]any `json:"data"`
}

func Register(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.AppMetrics
	if metrics == nil {
		metrics = docstore.NoopAppMetrics{}
	}
	maxBatch := deps.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(deps.MetricsHandler))
	}
	e.GET("/metrics/app", func(c echo.Context) error {
		return c.JSON(http.StatusOK, metrics.Snapshot())
	})

	e.POST("/collections/:collection/upsert", func(c echo.Context) error {
		if deps.Upsert == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "store unavailable"})
		}
		collection := strings.TrimSpace(c.Param("collection"))

		var req upsertRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		}
		if len(req.Data) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "data is required"})
		}
		if len(req.Data) > maxBatch {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("data exceeds the batch limit of %d documents", maxBatch)})
		}

		results, err := deps.Upsert(c.Request().Context(), callerFrom(c), collection, req.Data)
		if err != nil {
			logger.ErrorContext(c.Request().Context(), "upsert failed",
				"collection", collection,
				"documents", len(req.Data),
				"error", err,
			)
			return WriteError(c, err)
		}

		out := upsertResponse{Data: make([]map[string]any, len(results))}
		for i, res := range results {
			out.Data[i] = resultPayload(res)
		}
		return c.JSON(http.StatusOK, out)
	})

	e.GET("/collections/:collection/documents/:id", func(c echo.Context) error {
		if deps.Get == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "store unavailable"})
		}
		doc, err := deps.Get(c.Request().Context(), strings.TrimSpace(c.Param("collection")), c.Param("id"))
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return c.JSON(http.StatusNotFound, map[string]any{"error": err.Error()})
			}
			return WriteError(c, err)
		}
		return c.JSON(http.StatusOK, doc)
	})
}

// resultPayload renders one response slot: the written id and version on
// success, the error message and its code otherwise.
func resultPayload(res docstore.Result) map[string]any {
	if res.Err != nil {
		return map[string]any{
			"error": res.Err.Error(),
			"code":  docstore.ErrorCode(res.Err),
		}
	}
	return map[string]any{
		docstore.IDField:      res.ID,
		docstore.VersionField: res.Version,
	}
}

func WriteError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, docstore.ErrInvalidCollection), errors.Is(err, docstore.ErrInvalidDocument):
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, map[string]any{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error(), "code": docstore.CodeInternal})
	}
}
