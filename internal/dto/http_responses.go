package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	SessionNotFound       = "SESSION_NOT_FOUND"
	ParticipantNotFound   = "PARTICIPANT_NOT_FOUND"
	WaitlistEntryNotFound = "WAITLIST_ENTRY_NOT_FOUND"
	SessionFull           = "SESSION_FULL"
	RegistrationNotOpen   = "REGISTRATION_NOT_OPEN"
	Unauthorized          = "UNAUTHORIZED"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,loose_email"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CreateSessionRequest struct {
	Title                string     `json:"title" validate:"required,max=255"`
	Description          string     `json:"description" validate:"required"`
	Date                 string     `json:"date" validate:"required,isodate"`
	Time                 string     `json:"time" validate:"required,clock"`
	Location             string     `json:"location" validate:"required"`
	MaxParticipants      int        `json:"max_participants" validate:"positive"`
	RegistrationOpenDate *time.Time `json:"registration_open_date,omitempty"`
	ChatLink             string     `json:"chat_link,omitempty"`
}

type RegisterParticipantRequest struct {
	Name              string `json:"name" validate:"required,max=255"`
	Phone             string `json:"phone" validate:"required,max=32"`
	Email             string `json:"email" validate:"required,loose_email"`
	EmergencyContact  string `json:"emergency_contact"`
	EmergencyPhone    string `json:"emergency_phone"`
	MedicalConditions string `json:"medical_conditions"`
	PrivacyConsent    bool   `json:"privacy_consent"`
	MarketingConsent  bool   `json:"marketing_consent"`
}

type JoinWaitlistRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Phone string `json:"phone" validate:"required,max=32"`
}

type SessionResponse struct {
	ID                   int64      `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Date                 string     `json:"date"`
	Time                 string     `json:"time"`
	Location             string     `json:"location"`
	MaxParticipants      int        `json:"max_participants"`
	CurrentParticipants  int        `json:"current_participants"`
	AvailableSeats       int        `json:"available_seats"`
	RegistrationStatus   string     `json:"registration_status"`
	RegistrationOpenDate *time.Time `json:"registration_open_date,omitempty"`
	WaitlistSize         int        `json:"waitlist_size"`
	ImageURL             *string    `json:"image_url,omitempty"`
	ChatLink             *string    `json:"chat_link,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

type ParticipantResponse struct {
	ID                int64     `json:"id"`
	SessionID         int64     `json:"session_id"`
	Name              string    `json:"name"`
	Phone             string    `json:"phone"`
	Email             string    `json:"email"`
	EmergencyContact  string    `json:"emergency_contact,omitempty"`
	EmergencyPhone    string    `json:"emergency_phone,omitempty"`
	MedicalConditions string    `json:"medical_conditions,omitempty"`
	PrivacyConsent    bool      `json:"privacy_consent"`
	MarketingConsent  bool      `json:"marketing_consent"`
	CreatedAt         time.Time `json:"created_at"`
}

type WaitlistEntryResponse struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Position  int       `json:"position"`
	Label     string    `json:"label"` // e.g. "3순위"
	CreatedAt time.Time `json:"created_at"`
}

type DeleteResponse struct {
	DeletedID int64 `json:"deleted_id"`
}

type ImageUploadResponse struct {
	SessionID int64  `json:"session_id"`
	ImageURL  string `json:"image_url"`
}

// SlotFreedMessage is published when deleting a participant frees a seat on a
// session that still has people waiting.
type SlotFreedMessage struct {
	SessionID int64     `json:"session_id"`
	FreedAt   time.Time `json:"freed_at"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func SessionNotFoundError(c *ginext.Context) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: SessionNotFound,
			Desc: "Session not found",
		},
	})
}

func ParticipantNotFoundError(c *ginext.Context) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: ParticipantNotFound,
			Desc: "Participant not found",
		},
	})
}

func WaitlistEntryNotFoundError(c *ginext.Context) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: WaitlistEntryNotFound,
			Desc: "Waitlist entry not found",
		},
	})
}

func SessionFullError(c *ginext.Context) {
	c.JSON(409, Response{
		Status: "error",
		Error: &Error{
			Code: SessionFull,
			Desc: "Session is full, join the waitlist instead",
		},
	})
}

func RegistrationNotOpenError(c *ginext.Context, opensAt time.Time) {
	c.JSON(409, Response{
		Status: "error",
		Error: &Error{
			Code: RegistrationNotOpen,
			Desc: "Registration opens at " + opensAt.Format(time.RFC3339),
		},
	})
}

func UnauthorizedError(c *ginext.Context, desc string) {
	c.JSON(401, Response{
		Status: "error",
		Error: &Error{
			Code: Unauthorized,
			Desc: desc,
		},
	})
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
