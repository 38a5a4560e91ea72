package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

// PostgreSQL error codes mapped to ErrStoreConflict.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// PostgresStore is the RecordStore backed by PostgreSQL. Rows an orchestrator reads in order to
// modify are locked with SELECT ... FOR UPDATE, which serialises work per match and recipient.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL record store
func NewPostgresStore(pool *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		log:  logger,
	}
}

// WithinTx implements domain.RecordStore.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapPgError("beginning transaction", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.WithError(rbErr).Debug("Rollback after failed transaction")
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		s.log.WithError(err).Error("Failed to commit transaction")
		return mapPgError("committing transaction", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// mapPgError wraps err with the store error kind it represents.
func mapPgError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetHospital(ctx context.Context, id string) (*domain.Hospital, error) {
	var h domain.Hospital
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, deleted_at FROM hospitals WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&h.ID, &h.Name, &h.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("hospital", id)
	}
	if err != nil {
		return nil, mapPgError("getting hospital", err)
	}
	return &h, nil
}

func (t *pgTx) GetPerson(ctx context.Context, id string) (*domain.Person, error) {
	var p domain.Person
	var hospitalID *string
	err := t.tx.QueryRow(ctx, `
		SELECT id, first_name, last_name, hospital_id, deleted_at
		FROM persons
		WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &hospitalID, &p.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("person", id)
	}
	if err != nil {
		return nil, mapPgError("getting person", err)
	}
	if hospitalID != nil {
		p.HospitalID = *hospitalID
	}
	return &p, nil
}

func (t *pgTx) GetClinicalProfile(ctx context.Context, personID string) (domain.ClinicalProfile, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT person_id, role, organ, blood_type, hla, pra_percent, cmv, ebv,
		       chronic_conditions, status, updated_at
		FROM clinical_profiles
		WHERE person_id = $1
		FOR UPDATE`, personID)

	var (
		rec                     profileRow
		hlaJSON, conditionsJSON []byte
	)
	err := row.Scan(&rec.personID, &rec.role, &rec.organ, &rec.bloodType, &hlaJSON,
		&rec.pra, &rec.cmv, &rec.ebv, &conditionsJSON, &rec.status, &rec.updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("clinical_profile", personID)
	}
	if err != nil {
		return nil, mapPgError("getting clinical profile", err)
	}
	return rec.decode(hlaJSON, conditionsJSON)
}

func (t *pgTx) UpdateProfileStatus(ctx context.Context, personID string, status domain.ProfileStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE clinical_profiles SET status = $2, updated_at = NOW() WHERE person_id = $1`,
		personID, string(status))
	if err != nil {
		return mapPgError("updating profile status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("clinical_profile", personID)
	}
	return nil
}

const matchColumns = `id, recipient_id, donor_id, organ_type, match_score, compatibility_result,
	hla_mismatch_a, hla_mismatch_b, hla_mismatch_dr, cmv_mismatch, ebv_mismatch,
	state, revision, created_at, updated_at`

func scanMatch(row pgx.Row) (*domain.MatchCandidate, error) {
	var (
		m                    domain.MatchCandidate
		organ, result, state string
	)
	err := row.Scan(&m.ID, &m.RecipientID, &m.DonorID, &organ, &m.MatchScore, &result,
		&m.HLAMismatches.A, &m.HLAMismatches.B, &m.HLAMismatches.DR, &m.CMVMismatch, &m.EBVMismatch,
		&state, &m.Revision, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.OrganType = domain.OrganType(organ)
	m.CompatibilityResult = domain.CompatibilityResult(result)
	m.State = domain.LifecycleState(state)
	return &m, nil
}

func (t *pgTx) GetMatchCandidate(ctx context.Context, id string) (*domain.MatchCandidate, error) {
	m, err := scanMatch(t.tx.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM match_candidates WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("match", id)
	}
	if err != nil {
		return nil, mapPgError("getting match candidate", err)
	}
	return m, nil
}

func (t *pgTx) FindMatchCandidate(ctx context.Context, recipientID, donorID string) (*domain.MatchCandidate, error) {
	m, err := scanMatch(t.tx.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM match_candidates WHERE recipient_id = $1 AND donor_id = $2 FOR UPDATE`,
		recipientID, donorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("match", recipientID+"/"+donorID)
	}
	if err != nil {
		return nil, mapPgError("finding match candidate", err)
	}
	return m, nil
}

func (t *pgTx) UpsertMatchCandidate(ctx context.Context, m *domain.MatchCandidate) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO match_candidates (
			id, recipient_id, donor_id, organ_type, match_score, compatibility_result,
			hla_mismatch_a, hla_mismatch_b, hla_mismatch_dr, cmv_mismatch, ebv_mismatch,
			state, revision, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			organ_type = EXCLUDED.organ_type,
			match_score = EXCLUDED.match_score,
			compatibility_result = EXCLUDED.compatibility_result,
			hla_mismatch_a = EXCLUDED.hla_mismatch_a,
			hla_mismatch_b = EXCLUDED.hla_mismatch_b,
			hla_mismatch_dr = EXCLUDED.hla_mismatch_dr,
			cmv_mismatch = EXCLUDED.cmv_mismatch,
			ebv_mismatch = EXCLUDED.ebv_mismatch,
			state = EXCLUDED.state,
			revision = match_candidates.revision + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING revision, created_at`,
		m.ID, m.RecipientID, m.DonorID, string(m.OrganType), m.MatchScore, string(m.CompatibilityResult),
		m.HLAMismatches.A, m.HLAMismatches.B, m.HLAMismatches.DR, m.CMVMismatch, m.EBVMismatch,
		string(m.State), m.CreatedAt, m.UpdatedAt,
	).Scan(&m.Revision, &m.CreatedAt)
	if err != nil {
		return mapPgError("upserting match candidate", err)
	}
	return nil
}

func (t *pgTx) GetSurgicalContext(ctx context.Context, id string) (*domain.SurgicalContext, error) {
	var (
		s          domain.SurgicalContext
		hospitalID *string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, surgery_number, match_id, hospital_id FROM surgical_contexts WHERE id = $1`, id,
	).Scan(&s.ID, &s.SurgeryNumber, &s.MatchID, &hospitalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("surgical_context", id)
	}
	if err != nil {
		return nil, mapPgError("getting surgical context", err)
	}
	if hospitalID != nil {
		s.HospitalID = *hospitalID
	}
	return &s, nil
}

func scanPriority(row pgx.Row) (*domain.PriorityRecord, error) {
	var (
		r     domain.PriorityRecord
		level string
	)
	if err := row.Scan(&r.RecipientID, &r.Baseline, &r.EventScore, &r.Score, &level, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Level = domain.PriorityLevel(level)
	return &r, nil
}

func (t *pgTx) GetPriorityRecord(ctx context.Context, recipientID string) (*domain.PriorityRecord, error) {
	r, err := scanPriority(t.tx.QueryRow(ctx, `
		SELECT recipient_id, baseline, event_score, score, level, updated_at
		FROM priority_records WHERE recipient_id = $1`, recipientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("priority_record", recipientID)
	}
	if err != nil {
		return nil, mapPgError("getting priority record", err)
	}
	return r, nil
}

func (t *pgTx) GetOrCreatePriorityRecord(ctx context.Context, recipientID string) (*domain.PriorityRecord, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO priority_records (recipient_id, baseline, event_score, score, level, updated_at)
		SELECT $1, 0, 0, 0, $2, NOW()
		WHERE EXISTS (SELECT 1 FROM persons WHERE id = $1 AND deleted_at IS NULL)
		ON CONFLICT (recipient_id) DO NOTHING`,
		recipientID, string(domain.LevelForScore(0)))
	if err != nil {
		return nil, mapPgError("creating priority record", err)
	}

	r, err := scanPriority(t.tx.QueryRow(ctx, `
		SELECT recipient_id, baseline, event_score, score, level, updated_at
		FROM priority_records WHERE recipient_id = $1 FOR UPDATE`, recipientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("person", recipientID)
	}
	if err != nil {
		return nil, mapPgError("locking priority record", err)
	}
	return r, nil
}

func (t *pgTx) UpdatePriorityRecord(ctx context.Context, r *domain.PriorityRecord) error {
	r.Normalize()
	tag, err := t.tx.Exec(ctx, `
		UPDATE priority_records
		SET baseline = $2, event_score = $3, score = $4, level = $5, updated_at = $6
		WHERE recipient_id = $1`,
		r.RecipientID, r.Baseline, r.EventScore, r.Score, string(r.Level), r.UpdatedAt)
	if err != nil {
		return mapPgError("updating priority record", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("priority_record", r.RecipientID)
	}
	return nil
}

func (t *pgTx) CreateNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	exists, err := t.targetExists(ctx, n.Target)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.NewNotFoundError(string(n.Target.Kind), n.Target.ID)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Read = false

	tag, err := t.tx.Exec(ctx, `
		INSERT INTO notifications (id, target_kind, target_id, message, severity, is_read, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		n.ID, string(n.Target.Kind), n.Target.ID, n.Message, string(n.Severity), n.DedupeKey, n.CreatedAt)
	if err != nil {
		return false, mapPgError("creating notification", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) targetExists(ctx context.Context, target domain.Target) (bool, error) {
	var query string
	switch target.Kind {
	case domain.TargetHospital:
		query = `SELECT EXISTS (SELECT 1 FROM hospitals WHERE id = $1 AND deleted_at IS NULL)`
	case domain.TargetRecipient, domain.TargetDonor:
		query = `SELECT EXISTS (SELECT 1 FROM persons WHERE id = $1 AND deleted_at IS NULL)`
	default:
		return false, nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, query, target.ID).Scan(&exists); err != nil {
		return false, mapPgError("checking notification target", err)
	}
	return exists, nil
}

func (t *pgTx) MarkEventApplied(ctx context.Context, key string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO applied_events (event_key, applied_at) VALUES ($1, NOW()) ON CONFLICT (event_key) DO NOTHING`,
		key)
	if err != nil {
		return false, mapPgError("recording applied event", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) SaveHospital(ctx context.Context, h *domain.Hospital) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO hospitals (id, name, deleted_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, deleted_at = EXCLUDED.deleted_at`,
		h.ID, h.Name, h.DeletedAt)
	if err != nil {
		return mapPgError("saving hospital", err)
	}
	return nil
}

func (t *pgTx) SavePerson(ctx context.Context, p *domain.Person) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO persons (id, first_name, last_name, hospital_id, deleted_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			hospital_id = EXCLUDED.hospital_id,
			deleted_at = EXCLUDED.deleted_at`,
		p.ID, p.FirstName, p.LastName, p.HospitalID, p.DeletedAt)
	if err != nil {
		return mapPgError("saving person", err)
	}
	return nil
}

func (t *pgTx) SaveProfile(ctx context.Context, p domain.ClinicalProfile) error {
	rec, hlaJSON, conditionsJSON, err := encodeProfile(p)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO clinical_profiles (
			person_id, role, organ, blood_type, hla, pra_percent, cmv, ebv,
			chronic_conditions, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (person_id) DO UPDATE SET
			role = EXCLUDED.role,
			organ = EXCLUDED.organ,
			blood_type = EXCLUDED.blood_type,
			hla = EXCLUDED.hla,
			pra_percent = EXCLUDED.pra_percent,
			cmv = EXCLUDED.cmv,
			ebv = EXCLUDED.ebv,
			chronic_conditions = EXCLUDED.chronic_conditions,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		rec.personID, rec.role, rec.organ, rec.bloodType, hlaJSON, rec.pra, rec.cmv, rec.ebv,
		conditionsJSON, rec.status, rec.updatedAt)
	if err != nil {
		return mapPgError("saving clinical profile", err)
	}
	return nil
}

func (t *pgTx) SaveSurgicalContext(ctx context.Context, s *domain.SurgicalContext) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO surgical_contexts (id, surgery_number, match_id, hospital_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (id) DO UPDATE SET
			surgery_number = EXCLUDED.surgery_number,
			match_id = EXCLUDED.match_id,
			hospital_id = EXCLUDED.hospital_id`,
		s.ID, s.SurgeryNumber, s.MatchID, s.HospitalID)
	if err != nil {
		return mapPgError("saving surgical context", err)
	}
	return nil
}

func (t *pgTx) ListProfileIDs(ctx context.Context, role domain.Role, status domain.ProfileStatus) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT person_id FROM clinical_profiles
		WHERE role = $1 AND ($2 = '' OR status = $2)
		ORDER BY person_id`, string(role), string(status))
	if err != nil {
		return nil, mapPgError("listing profiles", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapPgError("listing profiles", err)
	}
	return ids, nil
}

// profileRow is the flattened storage form of a clinical profile shared by the SQL stores.
type profileRow struct {
	personID  string
	role      string
	organ     string
	bloodType string
	pra       float64
	cmv       string
	ebv       string
	status    string
	updatedAt time.Time
}

func encodeProfile(p domain.ClinicalProfile) (profileRow, []byte, []byte, error) {
	f := p.Facts()
	rec := profileRow{
		personID:  p.PersonID(),
		role:      string(p.Role()),
		bloodType: string(f.BloodType),
		pra:       f.PRAPercent,
		cmv:       string(f.CMV),
		ebv:       string(f.EBV),
		status:    string(f.Status),
		updatedAt: f.UpdatedAt,
	}
	if rec.updatedAt.IsZero() {
		rec.updatedAt = time.Now().UTC()
	}
	switch v := p.(type) {
	case *domain.RecipientProfile:
		rec.organ = string(v.OrganNeeded)
	case *domain.DonorProfile:
		rec.organ = string(v.OrganAvailable)
	}

	hlaJSON, err := json.Marshal(f.HLA)
	if err != nil {
		return rec, nil, nil, fmt.Errorf("encoding HLA typing: %w", err)
	}
	conditions := f.ChronicConditions
	if conditions == nil {
		conditions = []domain.ChronicCondition{}
	}
	conditionsJSON, err := json.Marshal(conditions)
	if err != nil {
		return rec, nil, nil, fmt.Errorf("encoding chronic conditions: %w", err)
	}
	return rec, hlaJSON, conditionsJSON, nil
}

func (rec profileRow) decode(hlaJSON, conditionsJSON []byte) (domain.ClinicalProfile, error) {
	facts := domain.ClinicalFacts{
		BloodType:  domain.BloodType(rec.bloodType),
		PRAPercent: rec.pra,
		CMV:        domain.Serostatus(rec.cmv),
		EBV:        domain.Serostatus(rec.ebv),
		Status:     domain.ProfileStatus(rec.status),
		UpdatedAt:  rec.updatedAt,
	}
	if err := json.Unmarshal(hlaJSON, &facts.HLA); err != nil {
		return nil, fmt.Errorf("decoding HLA typing for %s: %w", rec.personID, err)
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &facts.ChronicConditions); err != nil {
			return nil, fmt.Errorf("decoding chronic conditions for %s: %w", rec.personID, err)
		}
	}
	if len(facts.ChronicConditions) == 0 {
		facts.ChronicConditions = nil
	}

	switch domain.Role(rec.role) {
	case domain.RoleRecipient:
		return &domain.RecipientProfile{Person: rec.personID, OrganNeeded: domain.OrganType(rec.organ), ClinicalFacts: facts}, nil
	case domain.RoleDonor:
		return &domain.DonorProfile{Person: rec.personID, OrganAvailable: domain.OrganType(rec.organ), ClinicalFacts: facts}, nil
	default:
		return nil, fmt.Errorf("clinical profile %s has unknown role %q", rec.personID, rec.role)
	}
}
