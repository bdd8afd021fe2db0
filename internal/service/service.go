package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"runcrew/internal/auth"
	"runcrew/internal/dto"
	"runcrew/internal/export"
	"runcrew/internal/gate"
	"runcrew/internal/imagestore"
	"runcrew/internal/mailer"
	"runcrew/internal/model"
	"runcrew/internal/repo"
	"runcrew/pkg/validator"
)

// Publisher is the broker surface the service needs; *rabbit.Client satisfies it.
type Publisher interface {
	Publish(message []byte) error
}

type Service interface {
	// Public surface.
	ListSessions(ctx *ginext.Context)
	GetSession(ctx *ginext.Context)
	Register(ctx *ginext.Context)
	JoinWaitlist(ctx *ginext.Context)

	// Admin surface.
	Login(ctx *ginext.Context)
	CreateSession(ctx *ginext.Context)
	UpdateSession(ctx *ginext.Context)
	DeleteSession(ctx *ginext.Context)
	ListAllSessions(ctx *ginext.Context)
	ListParticipants(ctx *ginext.Context)
	GetParticipant(ctx *ginext.Context)
	DeleteParticipant(ctx *ginext.Context)
	ListWaitlist(ctx *ginext.Context)
	DeleteWaitlistEntry(ctx *ginext.Context)
	ExportRoster(ctx *ginext.Context)
	UploadSessionImage(ctx *ginext.Context)
}

type service struct {
	repo   repo.Repository
	log    *zerolog.Logger
	rbt    Publisher
	mailer *mailer.Mailer
	images imagestore.Store
	tokens *auth.Manager
	loc    *time.Location
}

func NewService(
	repo repo.Repository,
	logger *zerolog.Logger,
	rbt Publisher,
	m *mailer.Mailer,
	images imagestore.Store,
	tokens *auth.Manager,
	loc *time.Location,
) Service {
	return &service{
		repo:   repo,
		log:    logger,
		rbt:    rbt,
		mailer: m,
		images: images,
		tokens: tokens,
		loc:    loc,
	}
}

// today is the club's local date; "upcoming" means this date or later.
func (s *service) today() string {
	return time.Now().In(s.loc).Format("2006-01-02")
}

func (s *service) sessionResponse(m *model.Session, waitlistSize int, now time.Time) dto.SessionResponse {
	available := m.MaxParticipants - m.CurrentParticipants
	if available < 0 {
		available = 0
	}
	return dto.SessionResponse{
		ID:                   m.ID,
		Title:                m.Title,
		Description:          m.Description,
		Date:                 m.Date,
		Time:                 m.Time,
		Location:             m.Location,
		MaxParticipants:      m.MaxParticipants,
		CurrentParticipants:  m.CurrentParticipants,
		AvailableSeats:       available,
		RegistrationStatus:   string(gate.Evaluate(m.RegistrationOpenDate, m.CurrentParticipants, m.MaxParticipants, now)),
		RegistrationOpenDate: m.RegistrationOpenDate,
		WaitlistSize:         waitlistSize,
		ImageURL:             m.ImageURL,
		ChatLink:             m.ChatLink,
		CreatedAt:            m.CreatedAt,
	}
}

func participantResponse(p *model.Participant) dto.ParticipantResponse {
	return dto.ParticipantResponse{
		ID:                p.ID,
		SessionID:         p.SessionID,
		Name:              p.Name,
		Phone:             p.Phone,
		Email:             p.Email,
		EmergencyContact:  p.EmergencyContact,
		EmergencyPhone:    p.EmergencyPhone,
		MedicalConditions: p.MedicalConditions,
		PrivacyConsent:    p.PrivacyConsent,
		MarketingConsent:  p.MarketingConsent,
		CreatedAt:         p.CreatedAt,
	}
}

func idParam(ctx *ginext.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid id")
		return 0, false
	}
	return id, true
}

func (s *service) ListSessions(ctx *ginext.Context) {
	sessions, err := s.repo.GetUpcomingSessions(ctx.Request.Context(), s.today())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list upcoming sessions")
		dto.InternalServerError(ctx)
		return
	}

	now := time.Now()
	resp := make([]dto.SessionResponse, 0, len(sessions))
	for i := range sessions {
		waiting, err := s.repo.CountWaitlist(ctx.Request.Context(), sessions[i].ID)
		if err != nil {
			s.log.Error().Err(err).Int64("session_id", sessions[i].ID).Msg("failed to count waitlist")
			dto.InternalServerError(ctx)
			return
		}
		resp = append(resp, s.sessionResponse(&sessions[i], waiting, now))
	}

	dto.SuccessResponse(ctx, resp)
}

func (s *service) GetSession(ctx *ginext.Context) {
	id, ok := idParam(ctx)
	if !ok {
		return
	}

	session, err := s.repo.GetSessionByID(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			dto.SessionNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to get session")
		dto.InternalServerError(ctx)
		return
	}

	waiting, err := s.repo.CountWaitlist(ctx.Request.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to count waitlist")
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, s.sessionResponse(session, waiting, time.Now()))
}

func (s *service) Register(ctx *ginext.Context) {
	sessionID, ok := idParam(ctx)
	if !ok {
		return
	}

	var req dto.RegisterParticipantRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	if !req.PrivacyConsent {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Privacy consent is required")
		return
	}

	participant := &model.Participant{
		SessionID:         sessionID,
		Name:              req.Name,
		Phone:             req.Phone,
		Email:             req.Email,
		EmergencyContact:  req.EmergencyContact,
		EmergencyPhone:    req.EmergencyPhone,
		MedicalConditions: req.MedicalConditions,
		PrivacyConsent:    req.PrivacyConsent,
		MarketingConsent:  req.MarketingConsent,
	}

	id, err := s.repo.RegisterParticipantTx(ctx.Request.Context(), participant, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrSessionNotFound):
			dto.SessionNotFoundError(ctx)
		case errors.Is(err, repo.ErrSessionFull):
			dto.SessionFullError(ctx)
		case errors.Is(err, repo.ErrRegistrationNotOpen):
			s.respondNotOpen(ctx, sessionID)
		default:
			s.log.Error().Err(err).Msg("failed to register participant")
			dto.InternalServerError(ctx)
		}
		return
	}

	s.log.Info().
		Int64("participant_id", id).
		Int64("session_id", sessionID).
		Msg("participant registered")

	if session, err := s.repo.GetSessionByID(ctx.Request.Context(), sessionID); err == nil {
		if err := s.mailer.SendRegistrationReceipt(session, participant); err != nil {
			s.log.Warn().Err(err).Msg("failed to send registration receipt")
		}
	}

	dto.SuccessCreatedResponse(ctx, participantResponse(participant))
}

func (s *service) respondNotOpen(ctx *ginext.Context, sessionID int64) {
	session, err := s.repo.GetSessionByID(ctx.Request.Context(), sessionID)
	if err == nil && session.RegistrationOpenDate != nil {
		dto.RegistrationNotOpenError(ctx, *session.RegistrationOpenDate)
		return
	}
	dto.BadResponseError(ctx, dto.RegistrationNotOpen, "Registration is not open yet")
}

func (s *service) JoinWaitlist(ctx *ginext.Context) {
	sessionID, ok := idParam(ctx)
	if !ok {
		return
	}

	var req dto.JoinWaitlistRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	session, err := s.repo.GetSessionByID(ctx.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			dto.SessionNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to get session for waitlist")
		dto.InternalServerError(ctx)
		return
	}

	// The waitlist only exists for full sessions; while seats remain the
	// registration form is the way in.
	status := gate.Evaluate(session.RegistrationOpenDate, session.CurrentParticipants, session.MaxParticipants, time.Now())
	if status != gate.StatusFull {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Session still has open seats, use registration instead")
		return
	}

	entry := &model.WaitlistParticipant{
		SessionID: sessionID,
		Name:      req.Name,
		Phone:     req.Phone,
	}

	position, err := s.repo.JoinWaitlistTx(ctx.Request.Context(), entry)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			dto.SessionNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to join waitlist")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().
		Int64("waitlist_id", entry.ID).
		Int64("session_id", sessionID).
		Int("position", position).
		Msg("waitlist entry created")

	dto.SuccessCreatedResponse(ctx, dto.WaitlistEntryResponse{
		ID:        entry.ID,
		SessionID: entry.SessionID,
		Name:      entry.Name,
		Phone:     entry.Phone,
		Position:  position,
		Label:     export.PositionLabel(position),
		CreatedAt: entry.CreatedAt,
	})
}

// publishSlotFreed tells the notification worker a seat opened up. Losing the
// message only loses an email, so publish failures are logged and swallowed.
func (s *service) publishSlotFreed(sessionID int64) {
	msg := dto.SlotFreedMessage{
		SessionID: sessionID,
		FreedAt:   time.Now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal freed-slot message")
		return
	}
	if err := s.rbt.Publish(payload); err != nil {
		s.log.Error().Err(err).Int64("session_id", sessionID).Msg("failed to publish freed-slot message")
	}
}
