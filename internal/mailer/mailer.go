package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"

	"runcrew/internal/export"
	"runcrew/internal/model"
)

type Config struct {
	Host       string
	Port       string
	From       string
	Password   string
	AdminEmail string
	Enabled    bool
}

type Mailer struct {
	cfg Config
	log *zerolog.Logger
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// SendRegistrationReceipt confirms a successful sign-up. Failures are the
// caller's to ignore: mail never blocks a registration.
func (m *Mailer) SendRegistrationReceipt(s *model.Session, p *model.Participant) error {
	subject := "✅ 러닝 세션 신청이 완료되었습니다"
	body := fmt.Sprintf(
		"%s님, 안녕하세요!\n\n「%s」 세션 신청이 완료되었습니다.\n\n일시: %s %s\n장소: %s\n\n세션에서 만나요!",
		p.Name, s.Title, s.Date, s.Time, s.Location,
	)
	return m.send(p.Email, subject, body)
}

// SendSlotFreedNotice tells the admin a seat opened on a session with a
// waitlist, so they can promote the head of the line by hand.
func (m *Mailer) SendSlotFreedNotice(s *model.Session, head *model.WaitlistParticipant, waiting int) error {
	subject := fmt.Sprintf("🏃 「%s」 세션에 빈 자리가 생겼습니다", s.Title)
	body := fmt.Sprintf(
		"「%s」(%s %s) 세션에서 참여자가 취소되어 자리가 생겼습니다.\n\n대기 인원: %d명\n%s: %s (%s)\n\n관리자 대시보드에서 수동으로 승격해 주세요.",
		s.Title, s.Date, s.Time, waiting, export.PositionLabel(1), head.Name, head.Phone,
	)
	return m.send(m.cfg.AdminEmail, subject, body)
}

func (m *Mailer) send(to, subject, body string) error {
	if !m.cfg.Enabled {
		m.log.Debug().Str("to", to).Str("subject", subject).Msg("mailer disabled, skipping email")
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.From, to, subject, body,
	)

	addr := m.cfg.Host + ":" + m.cfg.Port
	a := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)

	if err := smtp.SendMail(addr, a, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		m.log.Warn().Err(err).Str("to", to).Msg("failed to send email")
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}
