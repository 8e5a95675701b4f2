package http

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"flow_server/adapter/out/persistence"
	"flow_server/core/domain"
	"flow_server/core/port/in"
	"flow_server/core/service/flow"
	"flow_server/core/service/scoring"
	"flow_server/infra/middleware"
	"flow_server/pkg/apperr"
	"flow_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// maxResyncIDs bounds one resync request.
const maxResyncIDs = 1000

// ScoreInspector explains how a score was produced.
type ScoreInspector interface {
	Debug(ctx context.Context, email *domain.Email) (*scoring.ScoreBreakdown, error)
	Compare(ctx context.Context, email *domain.Email, names ...string) ([]*scoring.ScoreBreakdown, error)
}

// EmailLookup loads one email for the score inspection routes.
type EmailLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.Email, error)
}

// LabelPublisher queues a label delta for asynchronous application.
type LabelPublisher interface {
	Publish(ctx context.Context, delta *domain.LabelDelta) (string, error)
}

// FlowHandler serves the bucket read endpoints, resync and score inspection.
type FlowHandler struct {
	flow      in.FlowService
	inspector ScoreInspector
	emails    EmailLookup
	publisher LabelPublisher
	writeGate fiber.Handler
}

type FlowHandlerOption func(*FlowHandler)

// WithInspector enables GET /flow/emails/:id/score.
func WithInspector(inspector ScoreInspector, emails EmailLookup) FlowHandlerOption {
	return func(h *FlowHandler) {
		h.inspector = inspector
		h.emails = emails
	}
}

// WithPublisher makes POST /flow/labels queue deltas instead of applying them inline.
func WithPublisher(p LabelPublisher) FlowHandlerOption {
	return func(h *FlowHandler) { h.publisher = p }
}

// WithWriteLimit guards the write endpoints (resync, labels) with the given middleware.
func WithWriteLimit(gate fiber.Handler) FlowHandlerOption {
	return func(h *FlowHandler) { h.writeGate = gate }
}

func NewFlowHandler(flowService in.FlowService, opts ...FlowHandlerOption) *FlowHandler {
	h := &FlowHandler{flow: flowService}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *FlowHandler) Register(router fiber.Router) {
	g := router.Group("/flow", middleware.RequireUser())

	// 고정 경로를 :bucket 보다 먼저 등록
	g.Get("/counts", h.Counts)
	g.Get("/summary", h.Summary)
	writes := []fiber.Handler{}
	if h.writeGate != nil {
		writes = append(writes, h.writeGate)
	}
	g.Post("/resync", append(writes, h.Resync)...)
	g.Post("/labels", append(writes, h.Labels)...)
	if h.inspector != nil && h.emails != nil {
		g.Get("/emails/:id/score", h.Score)
	}
	g.Get("/:bucket", h.ListBucket)
}

// ListBucket handles GET /flow/:bucket?order=score|date|subject&limit=&offset=
func (h *FlowHandler) ListBucket(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	page, err := h.flow.ListBucket(c.UserContext(), &in.ListBucketRequest{
		UserID: userID,
		Bucket: c.Params("bucket"),
		Order:  c.Query("order"),
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return mapError("list bucket", err)
	}

	return response.OKWithMeta(c, page.Emails, &response.Meta{
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: len(page.Emails) == page.Limit,
	})
}

func (h *FlowHandler) Counts(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	counts, err := h.flow.Counts(c.UserContext(), userID)
	if err != nil {
		return mapError("count buckets", err)
	}
	return response.OK(c, counts)
}

func (h *FlowHandler) Summary(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	summary, err := h.flow.Summary(c.UserContext(), userID)
	if err != nil {
		return mapError("summarize buckets", err)
	}
	return response.OK(c, summary)
}

type resyncRequest struct {
	EmailIDs []int64 `json:"email_ids"`
}

// Resync handles POST /flow/resync {"email_ids": [...]}.
func (h *FlowHandler) Resync(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var req resyncRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if len(req.EmailIDs) == 0 {
		return apperr.MissingField("email_ids")
	}
	if len(req.EmailIDs) > maxResyncIDs {
		return apperr.InvalidInput("email_ids", "at most "+strconv.Itoa(maxResyncIDs)+" ids per request")
	}
	for _, id := range req.EmailIDs {
		if id <= 0 {
			return apperr.InvalidInput("email_ids", "ids must be positive")
		}
	}

	marked, err := h.flow.MarkDirty(c.UserContext(), userID, req.EmailIDs)
	if err != nil {
		return mapError("mark dirty", err)
	}
	return response.Accepted(c, fiber.Map{"marked": marked})
}

type labelsRequest struct {
	EmailID int64    `json:"email_id"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Labels handles POST /flow/labels, the provider-sync entry point for label changes.
func (h *FlowHandler) Labels(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var req labelsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.EmailID <= 0 {
		return apperr.MissingField("email_id")
	}
	if len(req.Added) == 0 && len(req.Removed) == 0 {
		return apperr.InvalidInput("added", "no label changes")
	}

	delta := &domain.LabelDelta{UserID: userID, EmailID: req.EmailID, Added: req.Added, Removed: req.Removed}
	if h.publisher != nil {
		id, err := h.publisher.Publish(c.UserContext(), delta)
		if err != nil {
			return apperr.InternalWithError(err)
		}
		return response.Accepted(c, fiber.Map{"queued": true, "event_id": id})
	}

	if err := h.flow.ApplyLabelDelta(c.UserContext(), delta); err != nil {
		return mapError("apply labels", err)
	}
	return response.OK(c, fiber.Map{"queued": false})
}

// Score handles GET /flow/emails/:id/score?compare=simple,enhanced
func (h *FlowHandler) Score(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return apperr.InvalidInput("id", "must be a positive integer")
	}

	email, err := h.emails.GetByID(c.UserContext(), id)
	if err != nil {
		return mapError("load email", err)
	}
	if email.UserID != userID {
		return apperr.NotFound("email")
	}

	if raw, ok := c.Queries()["compare"]; ok {
		var names []string
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		results, err := h.inspector.Compare(c.UserContext(), email, names...)
		if errors.Is(err, scoring.ErrUnknownStrategy) {
			return apperr.InvalidInput("compare", err.Error())
		}
		if err != nil {
			return mapError("compare strategies", err)
		}
		return response.OK(c, results)
	}

	breakdown, err := h.inspector.Debug(c.UserContext(), email)
	if err != nil {
		return mapError("debug score", err)
	}
	return response.OK(c, fiber.Map{
		"breakdown": breakdown,
		"bucket":    flow.Classify(breakdown.Final),
	})
}

func mapError(operation string, err error) error {
	switch {
	case errors.Is(err, flow.ErrUnknownBucket):
		return apperr.InvalidInput("bucket", "must be one of now, later, reference")
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, flow.ErrForeignEmail):
		return apperr.NotFound("email")
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout(operation)
	default:
		return apperr.DatabaseError(operation, err)
	}
}
