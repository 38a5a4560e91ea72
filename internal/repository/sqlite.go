package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/organ-match-server/internal/domain"
)

// SQLiteStore is the RecordStore used by the single-user lite server. It keeps one open
// connection, so transactions never interleave.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and its schema.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath, log: logger}, nil
}

// createSchema creates the tables and indexes if they do not exist.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS hospitals (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS persons (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		hospital_id TEXT REFERENCES hospitals(id),
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS clinical_profiles (
		person_id TEXT PRIMARY KEY REFERENCES persons(id),
		role TEXT NOT NULL,
		organ TEXT NOT NULL DEFAULT '',
		blood_type TEXT NOT NULL,
		hla TEXT NOT NULL,
		pra_percent REAL NOT NULL DEFAULT 0,
		cmv TEXT NOT NULL DEFAULT '',
		ebv TEXT NOT NULL DEFAULT '',
		chronic_conditions TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'awaiting',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS match_candidates (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL REFERENCES persons(id),
		donor_id TEXT NOT NULL REFERENCES persons(id),
		organ_type TEXT NOT NULL,
		match_score INTEGER NOT NULL,
		compatibility_result TEXT NOT NULL,
		hla_mismatch_a INTEGER NOT NULL DEFAULT 0,
		hla_mismatch_b INTEGER NOT NULL DEFAULT 0,
		hla_mismatch_dr INTEGER NOT NULL DEFAULT 0,
		cmv_mismatch INTEGER NOT NULL DEFAULT 0,
		ebv_mismatch INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(recipient_id, donor_id)
	);

	CREATE TABLE IF NOT EXISTS surgical_contexts (
		id TEXT PRIMARY KEY,
		surgery_number TEXT NOT NULL,
		match_id TEXT NOT NULL REFERENCES match_candidates(id),
		hospital_id TEXT REFERENCES hospitals(id)
	);

	CREATE TABLE IF NOT EXISTS priority_records (
		recipient_id TEXT PRIMARY KEY REFERENCES persons(id),
		baseline INTEGER NOT NULL DEFAULT 0,
		event_score INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		level TEXT NOT NULL DEFAULT 'low',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		message TEXT NOT NULL,
		severity TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		dedupe_key TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS applied_events (
		event_key TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_role_status ON clinical_profiles(role, status);
	CREATE INDEX IF NOT EXISTS idx_notifications_target ON notifications(target_kind, target_id, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// DB exposes the connection so the notification inbox can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// WithinTx implements domain.RecordStore.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError("beginning transaction", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WithError(rbErr).Debug("Rollback after failed transaction")
		}
	}()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return mapContextError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteError("committing transaction", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func mapSQLiteError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreTimeout, err)
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED,
			sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetHospital(ctx context.Context, id string) (*domain.Hospital, error) {
	var h domain.Hospital
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name FROM hospitals WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&h.ID, &h.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("hospital", id)
	}
	if err != nil {
		return nil, mapSQLiteError("getting hospital", err)
	}
	return &h, nil
}

func (t *sqliteTx) GetPerson(ctx context.Context, id string) (*domain.Person, error) {
	var (
		p          domain.Person
		hospitalID sql.NullString
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, hospital_id FROM persons WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &hospitalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("person", id)
	}
	if err != nil {
		return nil, mapSQLiteError("getting person", err)
	}
	p.HospitalID = hospitalID.String
	return &p, nil
}

func (t *sqliteTx) GetClinicalProfile(ctx context.Context, personID string) (domain.ClinicalProfile, error) {
	var (
		rec                     profileRow
		hlaJSON, conditionsJSON string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT person_id, role, organ, blood_type, hla, pra_percent, cmv, ebv,
			chronic_conditions, status, updated_at
		FROM clinical_profiles WHERE person_id = ?`, personID,
	).Scan(&rec.personID, &rec.role, &rec.organ, &rec.bloodType, &hlaJSON,
		&rec.pra, &rec.cmv, &rec.ebv, &conditionsJSON, &rec.status, &rec.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("clinical_profile", personID)
	}
	if err != nil {
		return nil, mapSQLiteError("getting clinical profile", err)
	}
	return rec.decode([]byte(hlaJSON), []byte(conditionsJSON))
}

func (t *sqliteTx) UpdateProfileStatus(ctx context.Context, personID string, status domain.ProfileStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE clinical_profiles SET status = ?, updated_at = ? WHERE person_id = ?`,
		string(status), time.Now().UTC(), personID)
	if err != nil {
		return mapSQLiteError("updating profile status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("clinical_profile", personID)
	}
	return nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteMatch(s scanner) (*domain.MatchCandidate, error) {
	var (
		m                    domain.MatchCandidate
		organ, result, state string
	)
	err := s.Scan(&m.ID, &m.RecipientID, &m.DonorID, &organ, &m.MatchScore, &result,
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

func (t *sqliteTx) GetMatchCandidate(ctx context.Context, id string) (*domain.MatchCandidate, error) {
	m, err := scanSQLiteMatch(t.tx.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM match_candidates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("match", id)
	}
	if err != nil {
		return nil, mapSQLiteError("getting match candidate", err)
	}
	return m, nil
}

func (t *sqliteTx) FindMatchCandidate(ctx context.Context, recipientID, donorID string) (*domain.MatchCandidate, error) {
	m, err := scanSQLiteMatch(t.tx.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM match_candidates WHERE recipient_id = ? AND donor_id = ?`,
		recipientID, donorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("match", recipientID+"/"+donorID)
	}
	if err != nil {
		return nil, mapSQLiteError("finding match candidate", err)
	}
	return m, nil
}

func (t *sqliteTx) UpsertMatchCandidate(ctx context.Context, m *domain.MatchCandidate) error {
	now := time.Now().UTC()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}

	var (
		revision  int64
		createdAt time.Time
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT revision, created_at FROM match_candidates WHERE id = ?`, m.ID,
	).Scan(&revision, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		m.Revision = 1
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO match_candidates (
				id, recipient_id, donor_id, organ_type, match_score, compatibility_result,
				hla_mismatch_a, hla_mismatch_b, hla_mismatch_dr, cmv_mismatch, ebv_mismatch,
				state, revision, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.RecipientID, m.DonorID, string(m.OrganType), m.MatchScore, string(m.CompatibilityResult),
			m.HLAMismatches.A, m.HLAMismatches.B, m.HLAMismatches.DR, m.CMVMismatch, m.EBVMismatch,
			string(m.State), m.Revision, m.CreatedAt, m.UpdatedAt)
	case err != nil:
		return mapSQLiteError("loading match revision", err)
	default:
		m.Revision = revision + 1
		m.CreatedAt = createdAt
		_, err = t.tx.ExecContext(ctx, `
			UPDATE match_candidates SET
				organ_type = ?, match_score = ?, compatibility_result = ?,
				hla_mismatch_a = ?, hla_mismatch_b = ?, hla_mismatch_dr = ?,
				cmv_mismatch = ?, ebv_mismatch = ?, state = ?, revision = ?, updated_at = ?
			WHERE id = ?`,
			string(m.OrganType), m.MatchScore, string(m.CompatibilityResult),
			m.HLAMismatches.A, m.HLAMismatches.B, m.HLAMismatches.DR,
			m.CMVMismatch, m.EBVMismatch, string(m.State), m.Revision, m.UpdatedAt, m.ID)
	}
	if err != nil {
		return mapSQLiteError("upserting match candidate", err)
	}
	return nil
}

func (t *sqliteTx) GetSurgicalContext(ctx context.Context, id string) (*domain.SurgicalContext, error) {
	var (
		s          domain.SurgicalContext
		hospitalID sql.NullString
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, surgery_number, match_id, hospital_id FROM surgical_contexts WHERE id = ?`, id,
	).Scan(&s.ID, &s.SurgeryNumber, &s.MatchID, &hospitalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("surgical_context", id)
	}
	if err != nil {
		return nil, mapSQLiteError("getting surgical context", err)
	}
	s.HospitalID = hospitalID.String
	return &s, nil
}

func (t *sqliteTx) GetPriorityRecord(ctx context.Context, recipientID string) (*domain.PriorityRecord, error) {
	var (
		r     domain.PriorityRecord
		level string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT recipient_id, baseline, event_score, score, level, updated_at
		FROM priority_records WHERE recipient_id = ?`, recipientID,
	).Scan(&r.RecipientID, &r.Baseline, &r.EventScore, &r.Score, &level, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("priority_record", recipientID)
	}
	if err != nil {
		return nil, mapSQLiteError("getting priority record", err)
	}
	r.Level = domain.PriorityLevel(level)
	return &r, nil
}

func (t *sqliteTx) GetOrCreatePriorityRecord(ctx context.Context, recipientID string) (*domain.PriorityRecord, error) {
	r, err := t.GetPriorityRecord(ctx, recipientID)
	if !errors.Is(err, domain.ErrNotFound) {
		return r, err
	}
	if _, err := t.GetPerson(ctx, recipientID); err != nil {
		return nil, err
	}
	r = domain.NewPriorityRecord(recipientID, time.Now().UTC())
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO priority_records (recipient_id, baseline, event_score, score, level, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RecipientID, r.Baseline, r.EventScore, r.Score, string(r.Level), r.UpdatedAt)
	if err != nil {
		return nil, mapSQLiteError("creating priority record", err)
	}
	return r, nil
}

func (t *sqliteTx) UpdatePriorityRecord(ctx context.Context, r *domain.PriorityRecord) error {
	r.Normalize()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE priority_records
		SET baseline = ?, event_score = ?, score = ?, level = ?, updated_at = ?
		WHERE recipient_id = ?`,
		r.Baseline, r.EventScore, r.Score, string(r.Level), r.UpdatedAt, r.RecipientID)
	if err != nil {
		return mapSQLiteError("updating priority record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("priority_record", r.RecipientID)
	}
	return nil
}

func (t *sqliteTx) CreateNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	var query string
	switch n.Target.Kind {
	case domain.TargetHospital:
		query = `SELECT EXISTS (SELECT 1 FROM hospitals WHERE id = ? AND deleted_at IS NULL)`
	case domain.TargetRecipient, domain.TargetDonor:
		query = `SELECT EXISTS (SELECT 1 FROM persons WHERE id = ? AND deleted_at IS NULL)`
	default:
		return false, domain.NewNotFoundError(string(n.Target.Kind), n.Target.ID)
	}
	var exists bool
	if err := t.tx.QueryRowContext(ctx, query, n.Target.ID).Scan(&exists); err != nil {
		return false, mapSQLiteError("checking notification target", err)
	}
	if !exists {
		return false, domain.NewNotFoundError(string(n.Target.Kind), n.Target.ID)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Read = false

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO notifications (id, target_kind, target_id, message, severity, is_read, dedupe_key, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		n.ID, string(n.Target.Kind), n.Target.ID, n.Message, string(n.Severity), n.DedupeKey, n.CreatedAt)
	if err != nil {
		return false, mapSQLiteError("creating notification", err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (t *sqliteTx) MarkEventApplied(ctx context.Context, key string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO applied_events (event_key, applied_at) VALUES (?, ?) ON CONFLICT (event_key) DO NOTHING`,
		key, time.Now().UTC())
	if err != nil {
		return false, mapSQLiteError("recording applied event", err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (t *sqliteTx) SaveHospital(ctx context.Context, h *domain.Hospital) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO hospitals (id, name, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, deleted_at = excluded.deleted_at`,
		h.ID, h.Name, nullTime(h.DeletedAt))
	if err != nil {
		return mapSQLiteError("saving hospital", err)
	}
	return nil
}

func (t *sqliteTx) SavePerson(ctx context.Context, p *domain.Person) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO persons (id, first_name, last_name, hospital_id, deleted_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT (id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			hospital_id = excluded.hospital_id,
			deleted_at = excluded.deleted_at`,
		p.ID, p.FirstName, p.LastName, p.HospitalID, nullTime(p.DeletedAt))
	if err != nil {
		return mapSQLiteError("saving person", err)
	}
	return nil
}

func (t *sqliteTx) SaveProfile(ctx context.Context, p domain.ClinicalProfile) error {
	rec, hlaJSON, conditionsJSON, err := encodeProfile(p)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO clinical_profiles (
			person_id, role, organ, blood_type, hla, pra_percent, cmv, ebv,
			chronic_conditions, status, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (person_id) DO UPDATE SET
			role = excluded.role,
			organ = excluded.organ,
			blood_type = excluded.blood_type,
			hla = excluded.hla,
			pra_percent = excluded.pra_percent,
			cmv = excluded.cmv,
			ebv = excluded.ebv,
			chronic_conditions = excluded.chronic_conditions,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		rec.personID, rec.role, rec.organ, rec.bloodType, string(hlaJSON), rec.pra, rec.cmv, rec.ebv,
		string(conditionsJSON), rec.status, rec.updatedAt)
	if err != nil {
		return mapSQLiteError("saving clinical profile", err)
	}
	return nil
}

func (t *sqliteTx) SaveSurgicalContext(ctx context.Context, s *domain.SurgicalContext) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO surgical_contexts (id, surgery_number, match_id, hospital_id)
		VALUES (?, ?, ?, NULLIF(?, ''))
		ON CONFLICT (id) DO UPDATE SET
			surgery_number = excluded.surgery_number,
			match_id = excluded.match_id,
			hospital_id = excluded.hospital_id`,
		s.ID, s.SurgeryNumber, s.MatchID, s.HospitalID)
	if err != nil {
		return mapSQLiteError("saving surgical context", err)
	}
	return nil
}

func (t *sqliteTx) ListProfileIDs(ctx context.Context, role domain.Role, status domain.ProfileStatus) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT person_id FROM clinical_profiles
		WHERE role = ? AND (? = '' OR status = ?)
		ORDER BY person_id`, string(role), string(status), string(status))
	if err != nil {
		return nil, mapSQLiteError("listing profiles", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLiteError("scanning profile id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
