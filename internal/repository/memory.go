package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/organ-match-server/internal/domain"
)

// MemoryStore is an in-process RecordStore. Transactions are serialised and work on a clone of
// the state that replaces the committed state only when the transaction function succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
}

type memoryState struct {
	hospitals     map[string]domain.Hospital
	persons       map[string]domain.Person
	profiles      map[string]domain.ClinicalProfile
	matches       map[string]domain.MatchCandidate
	surgeries     map[string]domain.SurgicalContext
	priorities    map[string]domain.PriorityRecord
	notifications map[string]domain.Notification
	dedupe        map[string]string
	applied       map[string]struct{}
}

func newMemoryState() memoryState {
	return memoryState{
		hospitals:     map[string]domain.Hospital{},
		persons:       map[string]domain.Person{},
		profiles:      map[string]domain.ClinicalProfile{},
		matches:       map[string]domain.MatchCandidate{},
		surgeries:     map[string]domain.SurgicalContext{},
		priorities:    map[string]domain.PriorityRecord{},
		notifications: map[string]domain.Notification{},
		dedupe:        map[string]string{},
		applied:       map[string]struct{}{},
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.hospitals {
		out.hospitals[k] = v
	}
	for k, v := range s.persons {
		out.persons[k] = v
	}
	for k, v := range s.profiles {
		out.profiles[k] = copyProfile(v)
	}
	for k, v := range s.matches {
		out.matches[k] = v
	}
	for k, v := range s.surgeries {
		out.surgeries[k] = v
	}
	for k, v := range s.priorities {
		out.priorities[k] = v
	}
	for k, v := range s.notifications {
		out.notifications[k] = v
	}
	for k, v := range s.dedupe {
		out.dedupe[k] = v
	}
	for k := range s.applied {
		out.applied[k] = struct{}{}
	}
	return out
}

func copyProfile(p domain.ClinicalProfile) domain.ClinicalProfile {
	switch v := p.(type) {
	case *domain.RecipientProfile:
		c := *v
		c.ChronicConditions = append([]domain.ChronicCondition(nil), v.ChronicConditions...)
		return &c
	case *domain.DonorProfile:
		c := *v
		c.ChronicConditions = append([]domain.ChronicCondition(nil), v.ChronicConditions...)
		return &c
	default:
		return p
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx implements domain.RecordStore.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return mapContextError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone(), now: s.nowFn()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return mapContextError(err)
	}
	s.state = tx.state
	return nil
}

// Close implements domain.RecordStore.
func (s *MemoryStore) Close() error { return nil }

// List returns the notifications addressed to target, newest first.
func (s *MemoryStore) List(_ context.Context, target domain.Target, unreadOnly bool, limit, offset int) ([]*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Notification
	for _, n := range s.state.notifications {
		if n.Target != target || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return []*domain.Notification{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// MarkRead flags a notification as read. Only the addressed party may do so.
func (s *MemoryStore) MarkRead(_ context.Context, id string, target domain.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.state.notifications[id]
	if !ok || n.Target != target {
		return domain.NewNotFoundError("notification", id)
	}
	n.Read = true
	s.state.notifications[id] = n
	return nil
}

// CountUnread returns the number of unread notifications for target.
func (s *MemoryStore) CountUnread(_ context.Context, target domain.Target) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.state.notifications {
		if n.Target == target && !n.Read {
			count++
		}
	}
	return count, nil
}

type memoryTx struct {
	state memoryState
	now   time.Time
}

func (tx *memoryTx) GetHospital(_ context.Context, id string) (*domain.Hospital, error) {
	h, ok := tx.state.hospitals[id]
	if !ok || h.DeletedAt != nil {
		return nil, domain.NewNotFoundError("hospital", id)
	}
	return &h, nil
}

func (tx *memoryTx) GetPerson(_ context.Context, id string) (*domain.Person, error) {
	p, ok := tx.state.persons[id]
	if !ok || p.DeletedAt != nil {
		return nil, domain.NewNotFoundError("person", id)
	}
	return &p, nil
}

func (tx *memoryTx) GetClinicalProfile(_ context.Context, personID string) (domain.ClinicalProfile, error) {
	p, ok := tx.state.profiles[personID]
	if !ok {
		return nil, domain.NewNotFoundError("clinical_profile", personID)
	}
	return copyProfile(p), nil
}

func (tx *memoryTx) UpdateProfileStatus(_ context.Context, personID string, status domain.ProfileStatus) error {
	p, ok := tx.state.profiles[personID]
	if !ok {
		return domain.NewNotFoundError("clinical_profile", personID)
	}
	p = copyProfile(p)
	p.Facts().Status = status
	p.Facts().UpdatedAt = tx.now
	tx.state.profiles[personID] = p
	return nil
}

func (tx *memoryTx) GetMatchCandidate(_ context.Context, id string) (*domain.MatchCandidate, error) {
	m, ok := tx.state.matches[id]
	if !ok {
		return nil, domain.NewNotFoundError("match", id)
	}
	return &m, nil
}

func (tx *memoryTx) FindMatchCandidate(_ context.Context, recipientID, donorID string) (*domain.MatchCandidate, error) {
	for _, m := range tx.state.matches {
		if m.RecipientID == recipientID && m.DonorID == donorID {
			return &m, nil
		}
	}
	return nil, domain.NewNotFoundError("match", recipientID+"/"+donorID)
}

func (tx *memoryTx) UpsertMatchCandidate(_ context.Context, m *domain.MatchCandidate) error {
	for id, other := range tx.state.matches {
		if id != m.ID && other.RecipientID == m.RecipientID && other.DonorID == m.DonorID {
			return fmt.Errorf("%w: match for %s/%s already exists as %s",
				domain.ErrStoreConflict, m.RecipientID, m.DonorID, id)
		}
	}
	if existing, ok := tx.state.matches[m.ID]; ok {
		m.Revision = existing.Revision + 1
		m.CreatedAt = existing.CreatedAt
	} else {
		m.Revision = 1
		if m.CreatedAt.IsZero() {
			m.CreatedAt = tx.now
		}
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = tx.now
	}
	tx.state.matches[m.ID] = *m
	return nil
}

func (tx *memoryTx) GetSurgicalContext(_ context.Context, id string) (*domain.SurgicalContext, error) {
	s, ok := tx.state.surgeries[id]
	if !ok {
		return nil, domain.NewNotFoundError("surgical_context", id)
	}
	return &s, nil
}

func (tx *memoryTx) GetPriorityRecord(_ context.Context, recipientID string) (*domain.PriorityRecord, error) {
	r, ok := tx.state.priorities[recipientID]
	if !ok {
		return nil, domain.NewNotFoundError("priority_record", recipientID)
	}
	return &r, nil
}

func (tx *memoryTx) GetOrCreatePriorityRecord(ctx context.Context, recipientID string) (*domain.PriorityRecord, error) {
	r, err := tx.GetPriorityRecord(ctx, recipientID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, err := tx.GetPerson(ctx, recipientID); err != nil {
		return nil, err
	}
	r = domain.NewPriorityRecord(recipientID, tx.now)
	tx.state.priorities[recipientID] = *r
	return r, nil
}

func (tx *memoryTx) UpdatePriorityRecord(_ context.Context, r *domain.PriorityRecord) error {
	if _, ok := tx.state.priorities[r.RecipientID]; !ok {
		return domain.NewNotFoundError("priority_record", r.RecipientID)
	}
	r.Normalize()
	tx.state.priorities[r.RecipientID] = *r
	return nil
}

func (tx *memoryTx) CreateNotification(_ context.Context, n *domain.Notification) (bool, error) {
	if !tx.targetExists(n.Target) {
		return false, domain.NewNotFoundError(string(n.Target.Kind), n.Target.ID)
	}
	if n.DedupeKey != "" {
		if _, ok := tx.state.dedupe[n.DedupeKey]; ok {
			return false, nil
		}
		tx.state.dedupe[n.DedupeKey] = n.ID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = tx.now
	}
	n.Read = false
	tx.state.notifications[n.ID] = *n
	return true, nil
}

func (tx *memoryTx) targetExists(t domain.Target) bool {
	switch t.Kind {
	case domain.TargetHospital:
		h, ok := tx.state.hospitals[t.ID]
		return ok && h.DeletedAt == nil
	case domain.TargetRecipient, domain.TargetDonor:
		p, ok := tx.state.persons[t.ID]
		return ok && p.DeletedAt == nil
	default:
		return false
	}
}

func (tx *memoryTx) MarkEventApplied(_ context.Context, key string) (bool, error) {
	if _, ok := tx.state.applied[key]; ok {
		return false, nil
	}
	tx.state.applied[key] = struct{}{}
	return true, nil
}

func (tx *memoryTx) SaveHospital(_ context.Context, h *domain.Hospital) error {
	tx.state.hospitals[h.ID] = *h
	return nil
}

func (tx *memoryTx) SavePerson(_ context.Context, p *domain.Person) error {
	tx.state.persons[p.ID] = *p
	return nil
}

func (tx *memoryTx) SaveProfile(_ context.Context, p domain.ClinicalProfile) error {
	tx.state.profiles[p.PersonID()] = copyProfile(p)
	return nil
}

func (tx *memoryTx) SaveSurgicalContext(_ context.Context, s *domain.SurgicalContext) error {
	tx.state.surgeries[s.ID] = *s
	return nil
}

func (tx *memoryTx) ListProfileIDs(_ context.Context, role domain.Role, status domain.ProfileStatus) ([]string, error) {
	ids := []string{}
	for id, p := range tx.state.profiles {
		if p.Role() != role || (status != "" && p.Facts().Status != status) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// mapContextError turns context expiry into the store error kinds.
func mapContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrStoreTimeout, err)
	}
	return err
}
