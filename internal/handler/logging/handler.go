// Package logging provides a request handler that only logs. It is used when
// no downstream replication queue is configured.
package logging

import (
	"context"
	"log/slog"

	"contentsync/internal/trigger"
)

type Handler struct {
	identity string
	logger   *slog.Logger
}

func New(identity string, logger *slog.Logger) *Handler {
	return &Handler{identity: identity, logger: logger}
}

func (h *Handler) Identity() string {
	return h.identity
}

func (h *Handler) Handle(ctx context.Context, req trigger.Request) error {
	h.logger.InfoContext(ctx, "replication request",
		"handler", h.identity,
		"request_id", req.ID,
		"action", req.Action,
		"paths", req.Paths,
	)
	return nil
}
