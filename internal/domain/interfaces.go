package domain

import (
	"context"
)

// RecordStore runs orchestrator work as one atomic unit. WithinTx commits when fn returns nil
// and rolls back every mutation fn made otherwise.
type RecordStore interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// NotificationStore persists notifications. CreateNotification reports created=false when a
// notification with the same DedupeKey already exists, and returns ErrNotFound when the target
// is absent or soft-deleted.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) (created bool, err error)
}

// Tx is the view of the record store inside one transaction. Getters return an error wrapping
// ErrNotFound for absent rows; soft-deleted persons and hospitals count as absent.
type Tx interface {
	NotificationStore

	GetHospital(ctx context.Context, id string) (*Hospital, error)
	GetPerson(ctx context.Context, id string) (*Person, error)
	GetClinicalProfile(ctx context.Context, personID string) (ClinicalProfile, error)
	UpdateProfileStatus(ctx context.Context, personID string, status ProfileStatus) error

	GetMatchCandidate(ctx context.Context, id string) (*MatchCandidate, error)
	FindMatchCandidate(ctx context.Context, recipientID, donorID string) (*MatchCandidate, error)
	UpsertMatchCandidate(ctx context.Context, m *MatchCandidate) error

	GetSurgicalContext(ctx context.Context, id string) (*SurgicalContext, error)

	GetPriorityRecord(ctx context.Context, recipientID string) (*PriorityRecord, error)
	GetOrCreatePriorityRecord(ctx context.Context, recipientID string) (*PriorityRecord, error)
	UpdatePriorityRecord(ctx context.Context, r *PriorityRecord) error

	// MarkEventApplied records an idempotency key and reports whether this is its first use.
	MarkEventApplied(ctx context.Context, key string) (first bool, err error)

	SaveHospital(ctx context.Context, h *Hospital) error
	SavePerson(ctx context.Context, p *Person) error
	SaveProfile(ctx context.Context, p ClinicalProfile) error
	SaveSurgicalContext(ctx context.Context, s *SurgicalContext) error
	ListProfileIDs(ctx context.Context, role Role, status ProfileStatus) ([]string, error)
}

// Publisher receives notifications after the transaction that created them has committed.
type Publisher interface {
	Publish(n *Notification)
}

// PriorityCache is a read-through cache of priority records.
type PriorityCache interface {
	Get(ctx context.Context, recipientID string) (*PriorityRecord, bool)
	Set(ctx context.Context, r *PriorityRecord)
	Invalidate(ctx context.Context, recipientID string)
}

// Observer is told about orchestrator outcomes for metrics.
type Observer interface {
	TransitionApplied(kind string)
	NotificationsSent(severity Severity, n int)
	NotificationsSkipped(n int)
	PriorityUpdated(level PriorityLevel)
	PairScored(outcome string)
	DuplicateEvent(kind string)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetEngineConfig() *EngineConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
