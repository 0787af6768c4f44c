// Package service reads the audit log for operators.
package service

import (
	"context"
	"log/slog"
	"strings"

	"kycvault/internal/store"
	dErrors "kycvault/pkg/domain-errors"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/requestcontext"
)

type Service struct {
	tx     store.Tx
	logger *slog.Logger
}

func New(tx store.Tx, logger *slog.Logger) *Service {
	return &Service{tx: tx, logger: logger}
}

// ListByTarget returns every event recorded against target, oldest first.
// An unknown target yields an empty list.
func (s *Service) ListByTarget(ctx context.Context, target string) ([]audit.Event, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "target is required")
	}

	var events []audit.Event
	err := s.tx.RunInTx(ctx, func(stores store.Stores) error {
		var err error
		events, err = stores.Audit().ListByTarget(ctx, target)
		return err
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit log")
	}

	s.logger.InfoContext(ctx, "audit log read",
		"request_id", requestcontext.RequestID(ctx),
		"target", target,
		"events", len(events),
	)
	return events, nil
}
