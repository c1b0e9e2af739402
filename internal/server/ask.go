package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hamedsk/corpusqa/config"
	"github.com/hamedsk/corpusqa/internal/index"
	"github.com/hamedsk/corpusqa/internal/synthesis"
	"github.com/hamedsk/corpusqa/models"
	"github.com/hamedsk/corpusqa/provider"
)

var askTracer trace.Tracer = otel.Tracer("corpusqa/server")

// AskHandler exposes the question answering pipeline over HTTP.
type AskHandler struct {
	Engine synthesis.Searcher
	Orch   *synthesis.Orchestrator
	Index  index.Index
	Cfg    config.RetrievalConfig
}

func (h *AskHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.POST("/ask", h.ask)
	g.GET("/status", h.status)
}

func (h *AskHandler) defaults(topK int, hybrid *bool) (int, bool) {
	if topK <= 0 {
		topK = h.Cfg.TopK
	}
	useHybrid := h.Cfg.HybridDefault
	if hybrid != nil {
		useHybrid = *hybrid
	}
	return topK, useHybrid
}

// Search
//
//	@Summary		Hybrid passage search
//	@Description	Returns fused, ranked passages without generating an answer
//	@Tags			ask
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		SearchRequest	true	"Search payload"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		502		{object}	HTTPError
//	@Router			/api/search [post]
func (h *AskHandler) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx, span := askTracer.Start(c.Request().Context(), "AskHandler.search")
	defer span.End()

	topK, useHybrid := h.defaults(req.TopK, req.Hybrid)
	span.SetAttributes(attribute.Int("top_k", topK), attribute.Bool("hybrid", useHybrid))

	results, err := h.Engine.Search(ctx, req.Query, topK, useHybrid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return httpError(err)
	}
	if results == nil {
		results = []models.RankedResult{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Hybrid: useHybrid, Results: results})
}

// Ask
//
//	@Summary		Ask a question
//	@Description	Streams the generated answer via Server-Sent Events: delta events carry text increments, a final answer event carries the full answer with citations
//	@Tags			ask
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			payload	body	AskRequest	true	"Ask payload"
//	@Success		200		{string}	string
//	@Failure		400		{object}	HTTPError
//	@Failure		503		{object}	HTTPError
//	@Router			/api/ask [post]
func (h *AskHandler) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx, span := askTracer.Start(c.Request().Context(), "AskHandler.ask")
	defer span.End()

	topK, useHybrid := h.defaults(req.TopK, req.Hybrid)
	span.SetAttributes(attribute.Int("top_k", topK), attribute.Bool("hybrid", useHybrid))

	stream, err := h.Orch.Ask(ctx, req.Question, topK, useHybrid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return httpError(err)
	}
	defer stream.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming unsupported")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	for {
		increment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeEvent(resp, flusher, "error", map[string]string{
				"stage": models.FailedStage(err),
				"error": failureSummary(err),
			})
			return nil
		}
		writeEvent(resp, flusher, "delta", map[string]string{"text": increment})
	}

	if answer := stream.Answer(); answer != nil {
		span.SetAttributes(attribute.Bool("cached", answer.Cached), attribute.Int("citations", len(answer.Citations)))
		writeEvent(resp, flusher, "answer", answer)
	}
	return nil
}

// Status
//
//	@Summary	Index status
//	@Tags		ask
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/api/status [get]
func (h *AskHandler) status(c echo.Context) error {
	n, err := h.Index.Count(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "ok", Passages: n})
}

func writeEvent(resp *echo.Response, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// failureSummary names the failed stage without repeating collaborator error
// text. The full error goes to spans and logs only.
func failureSummary(err error) string {
	if stage := models.FailedStage(err); stage != "" {
		return fmt.Sprintf("%s stage failed", stage)
	}
	return "request failed"
}

// httpError maps pipeline failures to HTTP statuses: caller mistakes are 400,
// an unconfigured provider is 503, collaborator failures are 502.
func httpError(err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		if stage := models.FailedStage(err); stage != "" {
			return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("%s stage failed", stage))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
