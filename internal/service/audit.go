package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-ledger/internal/repository"
)

// AuditService writes immutable audit trail entries.
type AuditService struct{}

func NewAuditService() *AuditService {
	return &AuditService{}
}

// Write stores a single audit record inside the caller's unit of work.
func (s *AuditService) Write(ctx context.Context, q repository.Querier, entityType, entityID string, actorID *string, action, prevState, nextState string, metadata []byte) error {
	if _, err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
