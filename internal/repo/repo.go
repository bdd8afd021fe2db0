package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"runcrew/internal/gate"
	"runcrew/internal/model"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionFull           = errors.New("session is full")
	ErrRegistrationNotOpen   = errors.New("registration is not open yet")
	ErrParticipantNotFound   = errors.New("participant not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")
	ErrAdminNotFound         = errors.New("admin not found")
)

// ParticipantFilter narrows admin participant listings. SessionID == 0 means all
// sessions; Scope is "", "upcoming" or "past" and compares the owning session's
// date against Today (YYYY-MM-DD).
type ParticipantFilter struct {
	SessionID int64
	Scope     string
	Today     string
}

type Repository interface {
	CreateSession(ctx context.Context, s *model.Session) (int64, error)
	UpdateSession(ctx context.Context, s *model.Session) error
	GetSessionByID(ctx context.Context, id int64) (*model.Session, error)
	GetAllSessions(ctx context.Context) ([]model.Session, error)
	GetUpcomingSessions(ctx context.Context, fromDate string) ([]model.Session, error)
	SetSessionImage(ctx context.Context, id int64, url *string) error
	DeleteSessionCascadeTx(ctx context.Context, id int64) (*string, error)

	RegisterParticipantTx(ctx context.Context, p *model.Participant, now time.Time) (int64, error)
	GetParticipantByID(ctx context.Context, id int64) (*model.Participant, error)
	GetParticipants(ctx context.Context, f ParticipantFilter) ([]model.Participant, error)
	DeleteParticipantTx(ctx context.Context, id int64) (sessionID int64, wasFull bool, err error)

	JoinWaitlistTx(ctx context.Context, w *model.WaitlistParticipant) (int, error)
	GetWaitlist(ctx context.Context, sessionID int64) ([]model.WaitlistParticipant, error)
	CountWaitlist(ctx context.Context, sessionID int64) (int, error)
	GetWaitlistHead(ctx context.Context, sessionID int64) (*model.WaitlistParticipant, error)
	DeleteWaitlistEntry(ctx context.Context, id int64) error

	GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error)
	EnsureAdmin(ctx context.Context, a *model.Admin) error

	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) CreateSession(ctx context.Context, s *model.Session) (int64, error) {
	query := `
		INSERT INTO running_sessions
			(title, description, date, time, location, max_participants,
			 current_participants, registration_open_date, image_url, chat_link)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
		RETURNING id
	`

	row := r.db.QueryRowContext(ctx, query,
		s.Title, s.Description, s.Date, s.Time, s.Location, s.MaxParticipants,
		s.RegistrationOpenDate, s.ImageURL, s.ChatLink,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// UpdateSession replaces the mutable fields; the participant counter is only
// ever touched by the registration and deletion transactions.
func (r *repository) UpdateSession(ctx context.Context, s *model.Session) error {
	query := `
		UPDATE running_sessions
		SET title = $1, description = $2, date = $3, time = $4, location = $5,
		    max_participants = $6, registration_open_date = $7, chat_link = $8
		WHERE id = $9
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		s.Title, s.Description, s.Date, s.Time, s.Location,
		s.MaxParticipants, s.RegistrationOpenDate, s.ChatLink, s.ID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

const sessionColumns = `id, title, description, date, time, location,
	       max_participants, current_participants, registration_open_date,
	       image_url, chat_link, created_at`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	if err := row.Scan(
		&s.ID, &s.Title, &s.Description, &s.Date, &s.Time, &s.Location,
		&s.MaxParticipants, &s.CurrentParticipants, &s.RegistrationOpenDate,
		&s.ImageURL, &s.ChatLink, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) GetSessionByID(ctx context.Context, id int64) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM running_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *repository) GetAllSessions(ctx context.Context) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM running_sessions ORDER BY date ASC, time ASC`
	return r.querySessions(ctx, query)
}

// GetUpcomingSessions mirrors the public listing: sessions whose date has not
// passed yet. Dates are ISO strings, so plain string comparison orders them.
func (r *repository) GetUpcomingSessions(ctx context.Context, fromDate string) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM running_sessions WHERE date >= $1 ORDER BY date ASC, time ASC`
	return r.querySessions(ctx, query, fromDate)
}

func (r *repository) querySessions(ctx context.Context, query string, args ...any) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *repository) SetSessionImage(ctx context.Context, id int64, url *string) error {
	var got int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE running_sessions SET image_url = $1 WHERE id = $2 RETURNING id`,
		url, id,
	).Scan(&got)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to set session image: %w", err)
	}
	return nil
}

// DeleteSessionCascadeTx removes the session together with its participants and
// waitlist entries. Participant deletion runs first; if it fails the whole
// transaction rolls back, so no participant row can ever reference a vanished
// session. The stored image URL is returned so the caller can remove the object
// best-effort after commit.
func (r *repository) DeleteSessionCascadeTx(ctx context.Context, id int64) (*string, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var imageURL *string
	err = tx.QueryRowContext(ctx,
		`SELECT image_url FROM running_sessions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&imageURL)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to lock session for deletion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE session_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to delete session participants: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM waitlist_participants WHERE session_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to delete session waitlist: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM running_sessions WHERE id = $1`, id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session deletion: %w", err)
	}

	return imageURL, nil
}

// RegisterParticipantTx inserts the participant and bumps the session counter
// in one transaction with the session row locked, so the capacity check cannot
// be raced past and the counter cannot drift from the row count.
func (r *repository) RegisterParticipantTx(ctx context.Context, p *model.Participant, now time.Time) (int64, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var (
		current, max int
		openAt       *time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT current_participants, max_participants, registration_open_date
		FROM running_sessions
		WHERE id = $1
		FOR UPDATE
	`, p.SessionID).Scan(&current, &max, &openAt)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("failed to lock session: %w", err)
	}

	switch gate.Evaluate(openAt, current, max, now) {
	case gate.StatusFull:
		_ = tx.Rollback()
		return 0, ErrSessionFull
	case gate.StatusPending:
		_ = tx.Rollback()
		return 0, ErrRegistrationNotOpen
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO participants
			(session_id, name, phone, email, emergency_contact, emergency_phone,
			 medical_conditions, privacy_consent, marketing_consent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, p.SessionID, p.Name, p.Phone, p.Email, p.EmergencyContact, p.EmergencyPhone,
		p.MedicalConditions, p.PrivacyConsent, p.MarketingConsent,
	).Scan(&id, &p.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to insert participant: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE running_sessions
		SET current_participants = current_participants + 1
		WHERE id = $1
	`, p.SessionID); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to increment participant counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit registration: %w", err)
	}

	p.ID = id
	return id, nil
}

const participantColumns = `id, session_id, name, phone, email, emergency_contact,
	       emergency_phone, medical_conditions, privacy_consent, marketing_consent, created_at`

func scanParticipant(row interface{ Scan(...any) error }) (*model.Participant, error) {
	var p model.Participant
	if err := row.Scan(
		&p.ID, &p.SessionID, &p.Name, &p.Phone, &p.Email, &p.EmergencyContact,
		&p.EmergencyPhone, &p.MedicalConditions, &p.PrivacyConsent,
		&p.MarketingConsent, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetParticipantByID(ctx context.Context, id int64) (*model.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (r *repository) GetParticipants(ctx context.Context, f ParticipantFilter) ([]model.Participant, error) {
	query := `
		SELECT p.id, p.session_id, p.name, p.phone, p.email, p.emergency_contact,
		       p.emergency_phone, p.medical_conditions, p.privacy_consent,
		       p.marketing_consent, p.created_at
		FROM participants p
		JOIN running_sessions s ON s.id = p.session_id
	`
	var (
		where []string
		args  []any
	)
	if f.SessionID != 0 {
		args = append(args, f.SessionID)
		where = append(where, fmt.Sprintf("p.session_id = $%d", len(args)))
	}
	switch f.Scope {
	case "upcoming":
		args = append(args, f.Today)
		where = append(where, fmt.Sprintf("s.date >= $%d", len(args)))
	case "past":
		args = append(args, f.Today)
		where = append(where, fmt.Sprintf("s.date < $%d", len(args)))
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY p.created_at DESC, p.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

// DeleteParticipantTx mirrors the inverse of RegisterParticipantTx: the session
// row is locked, the participant deleted and the counter decremented (floored
// at zero) in one transaction. wasFull reports whether the session had no spare
// capacity before the deletion, so the caller knows a seat just opened up.
func (r *repository) DeleteParticipantTx(ctx context.Context, id int64) (int64, bool, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var sessionID int64
	err = tx.QueryRowContext(ctx,
		`SELECT session_id FROM participants WHERE id = $1`, id,
	).Scan(&sessionID)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrParticipantNotFound
		}
		return 0, false, fmt.Errorf("failed to look up participant: %w", err)
	}

	var current, max int
	err = tx.QueryRowContext(ctx, `
		SELECT current_participants, max_participants
		FROM running_sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionID).Scan(&current, &max)
	if err != nil {
		_ = tx.Rollback()
		return 0, false, fmt.Errorf("failed to lock session: %w", err)
	}
	wasFull := current >= max

	// The lookup above runs unlocked, so a concurrent deletion may have removed
	// the row while this transaction waited on the session lock. Only decrement
	// when this DELETE actually removed it.
	res, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, id)
	if err != nil {
		_ = tx.Rollback()
		return 0, false, fmt.Errorf("failed to delete participant: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, false, fmt.Errorf("failed to read delete result: %w", err)
	}
	if deleted == 0 {
		_ = tx.Rollback()
		return 0, false, ErrParticipantNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE running_sessions
		SET current_participants = GREATEST(current_participants - 1, 0)
		WHERE id = $1
	`, sessionID); err != nil {
		_ = tx.Rollback()
		return 0, false, fmt.Errorf("failed to decrement participant counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit participant deletion: %w", err)
	}

	return sessionID, wasFull, nil
}

// JoinWaitlistTx inserts the entry and reports its FIFO position: the number of
// entries for the same session created strictly before it, plus one. Insertion
// order (id) breaks created_at ties.
func (r *repository) JoinWaitlistTx(ctx context.Context, w *model.WaitlistParticipant) (int, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var exists int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM running_sessions WHERE id = $1`, w.SessionID,
	).Scan(&exists)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("failed to check session: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO waitlist_participants (session_id, name, phone)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, w.SessionID, w.Name, w.Phone).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to insert waitlist entry: %w", err)
	}

	var ahead int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM waitlist_participants
		WHERE session_id = $1
		  AND (created_at < $2 OR (created_at = $2 AND id < $3))
	`, w.SessionID, w.CreatedAt, w.ID).Scan(&ahead)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to count waitlist position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit waitlist entry: %w", err)
	}

	return ahead + 1, nil
}

// GetWaitlist returns entries in promotion order. sessionID == 0 lists all
// sessions; positions then still count within each entry's own session.
func (r *repository) GetWaitlist(ctx context.Context, sessionID int64) ([]model.WaitlistParticipant, error) {
	query := `
		SELECT id, session_id, name, phone, created_at
		FROM waitlist_participants
	`
	var args []any
	if sessionID != 0 {
		query += ` WHERE session_id = $1`
		args = append(args, sessionID)
	}
	query += ` ORDER BY session_id ASC, created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get waitlist: %w", err)
	}
	defer rows.Close()

	var entries []model.WaitlistParticipant
	for rows.Next() {
		var w model.WaitlistParticipant
		if err := rows.Scan(&w.ID, &w.SessionID, &w.Name, &w.Phone, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan waitlist entry: %w", err)
		}
		entries = append(entries, w)
	}
	return entries, rows.Err()
}

func (r *repository) CountWaitlist(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waitlist_participants WHERE session_id = $1`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count waitlist: %w", err)
	}
	return count, nil
}

func (r *repository) GetWaitlistHead(ctx context.Context, sessionID int64) (*model.WaitlistParticipant, error) {
	var w model.WaitlistParticipant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, name, phone, created_at
		FROM waitlist_participants
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, sessionID).Scan(&w.ID, &w.SessionID, &w.Name, &w.Phone, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, fmt.Errorf("failed to get waitlist head: %w", err)
	}
	return &w, nil
}

func (r *repository) DeleteWaitlistEntry(ctx context.Context, id int64) error {
	var got int64
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM waitlist_participants WHERE id = $1 RETURNING id`, id,
	).Scan(&got)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrWaitlistEntryNotFound
		}
		return fmt.Errorf("failed to delete waitlist entry: %w", err)
	}
	return nil
}

func (r *repository) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var a model.Admin
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM admins
		WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &a, nil
}

// EnsureAdmin upserts the bootstrap admin so the dashboard is reachable on a
// fresh database.
func (r *repository) EnsureAdmin(ctx context.Context, a *model.Admin) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (email, name, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, password_hash = EXCLUDED.password_hash
	`, a.Email, a.Name, a.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to ensure admin: %w", err)
	}
	return nil
}
