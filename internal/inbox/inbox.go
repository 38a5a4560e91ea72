// Package inbox provides read access to delivered notifications.
// Notifications are written by the orchestrators inside their transactions; the inbox only lists
// them and lets the addressed party flip the read flag.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/organ-match-server/internal/domain"
)

// Paging defaults for inbox listings.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store defines the inbox operations.
type Store interface {
	// List returns target's notifications, newest first. A zero limit means no limit.
	List(ctx context.Context, target domain.Target, unreadOnly bool, limit, offset int) ([]*domain.Notification, error)

	// MarkRead sets the read flag. It returns a not-found error unless the notification exists
	// and is addressed to target.
	MarkRead(ctx context.Context, id string, target domain.Target) error

	// CountUnread returns the number of unread notifications addressed to target.
	CountUnread(ctx context.Context, target domain.Target) (int, error)
}

// ParseTarget parses the "kind:id" form produced by domain.Target.String.
func ParseTarget(s string) (domain.Target, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return domain.Target{}, domain.NewValidationError("target", "target must look like kind:id", s)
	}
	t := domain.Target{Kind: domain.TargetKind(strings.ToLower(kind)), ID: id}
	if err := ValidateTarget(t); err != nil {
		return domain.Target{}, err
	}
	return t, nil
}

// ValidateTarget rejects targets with an unknown kind or no id.
func ValidateTarget(t domain.Target) error {
	if !t.Kind.IsValid() {
		return domain.NewValidationError("target.kind", "target kind must be recipient, donor or hospital", t.Kind)
	}
	if strings.TrimSpace(t.ID) == "" {
		return domain.NewValidationError("target.id", "target id is required", t.ID)
	}
	return nil
}

// NormalizeLimit applies the default and the upper bound to a requested page size.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Export is the JSON export format of one party's inbox.
type Export struct {
	Version       string                 `json:"version"`
	ExportedAt    time.Time              `json:"exported_at"`
	Target        domain.Target          `json:"target"`
	Count         int                    `json:"count"`
	Unread        int                    `json:"unread"`
	Notifications []*domain.Notification `json:"notifications"`
}

// ExportJSON writes target's whole inbox to writer.
func ExportJSON(ctx context.Context, store Store, target domain.Target, writer io.Writer) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	all, err := store.List(ctx, target, false, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}
	unread := 0
	for _, n := range all {
		if !n.Read {
			unread++
		}
	}

	export := &Export{
		Version:       "1.0",
		ExportedAt:    time.Now().UTC(),
		Target:        target,
		Count:         len(all),
		Unread:        unread,
		Notifications: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
