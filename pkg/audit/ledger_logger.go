package audit

import (
	"context"
	"fmt"

	"github.com/organiq/eve-core/pkg/auth"
	"github.com/organiq/eve-core/pkg/vault"
)

// LedgerLogger seals audit events into the evidence ledger as system
// events, giving API activity the same tamper evidence as decisions.
type LedgerLogger struct {
	ledger *vault.Ledger
}

func NewLedgerLogger(l *vault.Ledger) *LedgerLogger {
	return &LedgerLogger{ledger: l}
}

func (l *LedgerLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	if l.ledger == nil {
		return fmt.Errorf("fail-closed: audit ledger not configured")
	}

	content := map[string]interface{}{
		"actor_id": auth.ActorID(ctx),
		"action":   action,
		"resource": resource,
	}
	for k, v := range metadata {
		content[k] = v
	}

	_, err := l.ledger.Seal(vault.EvidenceSystem, content, map[string]string{
		"event_type": string(eventType),
	})
	return err
}
