package model

import "time"

type Session struct {
	ID                   int64      `db:"id" json:"id"`
	Title                string     `db:"title" json:"title"`
	Description          string     `db:"description" json:"description"`
	Date                 string     `db:"date" json:"date"` // YYYY-MM-DD
	Time                 string     `db:"time" json:"time"` // HH:MM
	Location             string     `db:"location" json:"location"`
	MaxParticipants      int        `db:"max_participants" json:"max_participants"`
	CurrentParticipants  int        `db:"current_participants" json:"current_participants"`
	RegistrationOpenDate *time.Time `db:"registration_open_date" json:"registration_open_date,omitempty"`
	ImageURL             *string    `db:"image_url" json:"image_url,omitempty"`
	ChatLink             *string    `db:"chat_link" json:"chat_link,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

type Participant struct {
	ID                int64     `db:"id" json:"id"`
	SessionID         int64     `db:"session_id" json:"session_id"`
	Name              string    `db:"name" json:"name"`
	Phone             string    `db:"phone" json:"phone"`
	Email             string    `db:"email" json:"email"`
	EmergencyContact  string    `db:"emergency_contact" json:"emergency_contact"`
	EmergencyPhone    string    `db:"emergency_phone" json:"emergency_phone"`
	MedicalConditions string    `db:"medical_conditions" json:"medical_conditions,omitempty"`
	PrivacyConsent    bool      `db:"privacy_consent" json:"privacy_consent"`
	MarketingConsent  bool      `db:"marketing_consent" json:"marketing_consent"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

type WaitlistParticipant struct {
	ID        int64     `db:"id" json:"id"`
	SessionID int64     `db:"session_id" json:"session_id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Admin struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
