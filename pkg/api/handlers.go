package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fletchdb/fletch/pkg/metadata"
	"github.com/fletchdb/fletch/pkg/metrics"
	"github.com/fletchdb/fletch/pkg/store"
)

// --- Request/Response types ---

type insertRequest struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata metadata.Document `json:"metadata,omitempty"`
}

type batchInsertRequest struct {
	Vectors []insertRequest `json:"vectors"`
}

type searchRequest struct {
	Vector []float32        `json:"vector"`
	K      int              `json:"k"`
	Filter *metadata.Filter `json:"filter,omitempty"`
}

type batchSearchRequest struct {
	Queries []searchRequest  `json:"queries"`
	Filter  *metadata.Filter `json:"filter,omitempty"`
}

type vectorResponse struct {
	ID        string            `json:"id"`
	Dimension int               `json:"dimension"`
	Vector    []float32         `json:"vector"`
	Metadata  metadata.Document `json:"metadata,omitempty"`
}

type searchResponse struct {
	Results []store.SearchResult `json:"results"`
}

type batchSearchResponse struct {
	Results [][]store.SearchResult `json:"results"`
}

type healthResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusForError maps store errors onto HTTP status codes: client mistakes
// are 400, missing records 404, everything else 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, store.ErrDimensionMismatch),
		errors.Is(err, store.ErrInvalidVector),
		errors.Is(err, store.ErrInvalidFilter),
		errors.Is(err, store.ErrInvalidParameter):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}

// --- Handlers ---

func (s *Server) insertVectorHandler(c *fiber.Ctx) error {
	var req insertRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body: " + err.Error()})
	}

	if err := s.store.Insert(req.ID, req.Vector, req.Metadata); err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": req.ID})
}

func (s *Server) listVectorsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ids": s.store.List()})
}

func (s *Server) getVectorHandler(c *fiber.Ctx) error {
	id := c.Params("id")

	vector, meta, err := s.store.Get(id)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(vectorResponse{
		ID:        id,
		Dimension: len(vector),
		Vector:    vector,
		Metadata:  meta,
	})
}

func (s *Server) deleteVectorHandler(c *fiber.Ctx) error {
	if err := s.store.Delete(c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) batchInsertHandler(c *fiber.Ctx) error {
	var req batchInsertRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body: " + err.Error()})
	}

	items := make([]store.BatchItem, len(req.Vectors))
	for i, v := range req.Vectors {
		items[i] = store.BatchItem{ID: v.ID, Vector: v.Vector, Metadata: v.Metadata}
	}

	inserted, err := s.store.BatchInsert(items)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{"inserted": inserted})
}

func (s *Server) searchHandler(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body: " + err.Error()})
	}
	if req.K == 0 {
		req.K = 10
	}

	start := time.Now()
	results, err := s.store.Search(req.Vector, req.K, req.Filter)
	if err != nil {
		return s.fail(c, err)
	}

	s.log.Debug("search completed",
		zap.Int("k", req.K),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)

	return c.JSON(searchResponse{Results: results})
}

func (s *Server) batchSearchHandler(c *fiber.Ctx) error {
	var req batchSearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body: " + err.Error()})
	}

	queries := make([]store.Query, len(req.Queries))
	for i, q := range req.Queries {
		k := q.K
		if k == 0 {
			k = 10
		}
		queries[i] = store.Query{Vector: q.Vector, K: k}
	}

	results, err := s.store.BatchSearch(c.Context(), queries, req.Filter)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(batchSearchResponse{Results: results})
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(healthResponse{Status: "ok", Count: s.store.Len()})
}

func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.stats == nil {
		return c.JSON(metrics.Summary{VectorCount: s.store.Len()})
	}
	return c.JSON(s.stats.Summary())
}
