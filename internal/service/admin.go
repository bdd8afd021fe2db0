package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/wb-go/wbf/ginext"

	"runcrew/internal/auth"
	"runcrew/internal/dto"
	"runcrew/internal/export"
	"runcrew/internal/imagestore"
	"runcrew/internal/model"
	"runcrew/internal/repo"
	"runcrew/pkg/validator"
)

func (s *service) Login(ctx *ginext.Context) {
	var req dto.LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	admin, err := s.repo.GetAdminByEmail(ctx.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repo.ErrAdminNotFound) {
			dto.UnauthorizedError(ctx, "Invalid email or password")
			return
		}
		s.log.Error().Err(err).Msg("failed to look up admin")
		dto.InternalServerError(ctx)
		return
	}

	if !auth.CheckPassword(admin.PasswordHash, req.Password) {
		dto.UnauthorizedError(ctx, "Invalid email or password")
		return
	}

	token, expiresAt, err := s.tokens.IssueToken(admin.ID, admin.Email, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to issue token")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().Int64("admin_id", admin.ID).Msg("admin logged in")

	dto.SuccessResponse(ctx, dto.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *service) CreateSession(ctx *ginext.Context) {
	var req dto.CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Err(err).Msg("failed to parse create session request")
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		s.log.Error().Msgf("validation failed: %v", verr)
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	session := sessionFromRequest(&req)

	id, err := s.repo.CreateSession(ctx.Request.Context(), session)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create session in DB")
		dto.InternalServerError(ctx)
		return
	}

	session.ID = id
	session.CreatedAt = time.Now()
	s.log.Info().Int64("session_id", id).Msg("session created successfully")

	dto.SuccessCreatedResponse(ctx, s.sessionResponse(session, 0, time.Now()))
}

func (s *service) UpdateSession(ctx *ginext.Context) {
	id, ok := idParam(ctx)
	if !ok {
		return
	}

	var req dto.CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	session := sessionFromRequest(&req)
	session.ID = id

	if err := s.repo.UpdateSession(ctx.Request.Context(), session); err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			dto.SessionNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to update session")
		dto.InternalServerError(ctx)
		return
	}

	updated, err := s.repo.GetSessionByID(ctx.Request.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to reload session after update")
		dto.InternalServerError(ctx)
		return
	}

	waiting, err := s.repo.CountWaitlist(ctx.Request.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to count waitlist")
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, s.sessionResponse(updated, waiting, time.Now()))
}

func (s *service) DeleteSession(ctx *ginext.Context) {
	id, ok := idParam(ctx)
	if !ok {
		return
	}

	imageURL, err := s.repo.DeleteSessionCascadeTx(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			dto.SessionNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to delete session")
		dto.InternalServerError(ctx)
		return
	}

	// The rows are gone; the image object is cleanup only.
	if imageURL != nil {
		if err := s.images.Remove(*imageURL); err != nil {
			s.log.Warn().Err(err).Str("image_url", *imageURL).Msg("failed to remove session image")
		}
	}

	s.log.Info().Int64("session_id", id).Msg("session deleted with participants and waitlist")

	dto.SuccessResponse(ctx, dto.DeleteResponse{DeletedID: id})
}

func (s *service) ListAllSessions(ctx *ginext.Context) {
	sessions, err := s.repo.GetAllSessions(ctx.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list sessions")
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

func (s *service) ListParticipants(ctx *ginext.Context) {
	filter, ok := s.participantFilter(ctx)
	if !ok {
		return
	}

	participants, err := s.repo.GetParticipants(ctx.Request.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list participants")
		dto.InternalServerError(ctx)
		return
	}

	resp := make([]dto.ParticipantResponse, 0, len(participants))
	for i := range participants {
		resp = append(resp, participantResponse(&participants[i]))
	}

	dto.SuccessResponse(ctx, resp)
}

func (s *service) participantFilter(ctx *ginext.Context) (repo.ParticipantFilter, bool) {
	filter := repo.ParticipantFilter{Today: s.today()}

	if raw := ctx.Query("session_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid session_id")
			return filter, false
		}
		filter.SessionID = id
	}

	switch scope := ctx.Query("scope"); scope {
	case "", "upcoming", "past":
		filter.Scope = scope
	default:
		dto.BadResponseError(ctx, dto.FieldIncorrect, "scope must be upcoming or past")
		return filter, false
	}

	return filter, true
}

func (s *service) GetParticipant(ctx *ginext.Context) {
	id, ok := idParam(ctx)
	if !ok {
		return
	}

	participant, err := s.repo.GetParticipantByID(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrParticipantNotFound) {
			dto.ParticipantNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to get participant")
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, participantResponse(participant))
}

func (s *service) DeleteParticipant(ctx *ginext.Context) {
	id, ok := idParam(ctx)
	if !ok {
		return
	}

	sessionID, wasFull, err := s.repo.DeleteParticipantTx(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrParticipantNotFound) {
			dto.ParticipantNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to delete participant")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().
		Int64("participant_id", id).
		Int64("session_id", sessionID).
		Msg("participant deleted, counter decremented")

	if wasFull {
		waiting, err := s.repo.CountWaitlist(ctx.Request.Context(), sessionID)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to count waitlist after deletion")
		} else if waiting > 0 {
			s.publishSlotFreed(sessionID)
		}
	}

	dto.SuccessResponse(ctx, dto.DeleteResponse{DeletedID: id})
}

func (s *service) ListWaitlist(ctx *ginext.Context) {
	var sessionID int64
	if raw := ctx.Query("session_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid session_id")
			return
		}
		sessionID = id
	}

	entries, err := s.repo.GetWaitlist(ctx.Request.Context(), sessionID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list waitlist")
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, waitlistResponses(entries))
}

func (s *service) DeleteWaitlistEntry(ctx *ginext.Context) {
	id, ok := idParam(ctx)
	if !ok {
		return
	}

	if err := s.repo.DeleteWaitlistEntry(ctx.Request.Context(), id); err != nil {
		if errors.Is(err, repo.ErrWaitlistEntryNotFound) {
			dto.WaitlistEntryNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to delete waitlist entry")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().Int64("waitlist_id", id).Msg("waitlist entry deleted")

	dto.SuccessResponse(ctx, dto.DeleteResponse{DeletedID: id})
}

// ExportRoster streams the roster CSV, either for one session (?session_id=N)
// or for everything. Waitlist rows carry their FIFO position in the category
// column; the filename is stamped with today's local date.
func (s *service) ExportRoster(ctx *ginext.Context) {
	var sessionID int64
	if raw := ctx.Query("session_id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid session_id")
			return
		}
		sessionID = id
	}

	titles, err := s.sessionTitles(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrSessionNotFound) {
			dto.SessionNotFoundError(ctx)
			return
		}
		s.log.Error().Err(err).Msg("failed to load sessions for export")
		dto.InternalServerError(ctx)
		return
	}

	participants, err := s.repo.GetParticipants(ctx.Request.Context(), repo.ParticipantFilter{SessionID: sessionID})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load participants for export")
		dto.InternalServerError(ctx)
		return
	}

	waitlist, err := s.repo.GetWaitlist(ctx.Request.Context(), sessionID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load waitlist for export")
		dto.InternalServerError(ctx)
		return
	}

	rows := make([]export.Row, 0, len(participants)+len(waitlist))
	for _, p := range participants {
		rows = append(rows, export.Row{
			SessionTitle:      titles[p.SessionID],
			Category:          export.CategoryParticipant,
			Name:              p.Name,
			Phone:             p.Phone,
			Email:             p.Email,
			EmergencyContact:  p.EmergencyContact,
			EmergencyPhone:    p.EmergencyPhone,
			MedicalConditions: p.MedicalConditions,
			CreatedAt:         p.CreatedAt,
		})
	}
	positions := map[int64]int{}
	for _, w := range waitlist {
		positions[w.SessionID]++
		rows = append(rows, export.Row{
			SessionTitle: titles[w.SessionID],
			Category:     export.CategoryWaitlist,
			Position:     positions[w.SessionID],
			Name:         w.Name,
			Phone:        w.Phone,
			CreatedAt:    w.CreatedAt,
		})
	}

	var buf bytes.Buffer
	if err := export.WriteRoster(&buf, rows, s.loc); err != nil {
		s.log.Error().Err(err).Msg("failed to render roster CSV")
		dto.InternalServerError(ctx)
		return
	}

	filename := export.Filename(time.Now(), s.loc)
	ctx.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	ctx.Data(200, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *service) sessionTitles(ctx *ginext.Context, sessionID int64) (map[int64]string, error) {
	titles := map[int64]string{}
	if sessionID != 0 {
		session, err := s.repo.GetSessionByID(ctx.Request.Context(), sessionID)
		if err != nil {
			return nil, err
		}
		titles[session.ID] = session.Title
		return titles, nil
	}

	sessions, err := s.repo.GetAllSessions(ctx.Request.Context())
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		titles[session.ID] = session.Title
	}
	return titles, nil
}

func (s *service) UploadSessionImage(ctx *ginext.Context) {
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
		s.log.Error().Err(err).Msg("failed to get session for image upload")
		dto.InternalServerError(ctx)
		return
	}

	fileHeader, err := ctx.FormFile("image")
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Form file 'image' is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to open uploaded file")
		dto.InternalServerError(ctx)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read uploaded file")
		dto.InternalServerError(ctx)
		return
	}

	url, err := s.images.Save(id, data)
	if err != nil {
		switch {
		case errors.Is(err, imagestore.ErrNotImage):
			dto.BadResponseError(ctx, dto.FieldBadFormat, "File must be an image")
		case errors.Is(err, imagestore.ErrTooLarge):
			dto.BadResponseError(ctx, dto.FieldIncorrect, "File exceeds the upload size limit")
		default:
			s.log.Error().Err(err).Msg("failed to store image")
			dto.InternalServerError(ctx)
		}
		return
	}

	if err := s.repo.SetSessionImage(ctx.Request.Context(), id, &url); err != nil {
		s.log.Error().Err(err).Msg("failed to record image URL")
		// Roll the orphaned object back so the store stays in sync with the row.
		if rmErr := s.images.Remove(url); rmErr != nil {
			s.log.Warn().Err(rmErr).Msg("failed to remove orphaned image")
		}
		dto.InternalServerError(ctx)
		return
	}

	if session.ImageURL != nil && *session.ImageURL != url {
		if err := s.images.Remove(*session.ImageURL); err != nil {
			s.log.Warn().Err(err).Str("image_url", *session.ImageURL).Msg("failed to remove replaced image")
		}
	}

	s.log.Info().Int64("session_id", id).Str("image_url", url).Msg("session image stored")

	dto.SuccessResponse(ctx, dto.ImageUploadResponse{SessionID: id, ImageURL: url})
}

func sessionFromRequest(req *dto.CreateSessionRequest) *model.Session {
	session := &model.Session{
		Title:                req.Title,
		Description:          req.Description,
		Date:                 req.Date,
		Time:                 req.Time,
		Location:             req.Location,
		MaxParticipants:      req.MaxParticipants,
		RegistrationOpenDate: req.RegistrationOpenDate,
	}
	if req.ChatLink != "" {
		session.ChatLink = &req.ChatLink
	}
	return session
}

func waitlistResponses(entries []model.WaitlistParticipant) []dto.WaitlistEntryResponse {
	resp := make([]dto.WaitlistEntryResponse, 0, len(entries))
	positions := map[int64]int{}
	for _, w := range entries {
		positions[w.SessionID]++
		resp = append(resp, dto.WaitlistEntryResponse{
			ID:        w.ID,
			SessionID: w.SessionID,
			Name:      w.Name,
			Phone:     w.Phone,
			Position:  positions[w.SessionID],
			Label:     export.PositionLabel(positions[w.SessionID]),
			CreatedAt: w.CreatedAt,
		})
	}
	return resp
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
