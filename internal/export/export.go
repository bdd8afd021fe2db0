// Package export renders participant rosters as CSV downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

const (
	CategoryParticipant = "참여자"
	CategoryWaitlist    = "대기자"
)

var header = []string{
	"세션", "구분", "이름", "연락처", "이메일", "비상연락처", "비상연락처 전화", "특이사항", "신청일시",
}

// Row is one roster line. Position is only meaningful for waitlist rows, where
// it annotates the category label ("대기자 2순위").
type Row struct {
	SessionTitle      string
	Category          string
	Position          int
	Name              string
	Phone             string
	Email             string
	EmergencyContact  string
	EmergencyPhone    string
	MedicalConditions string
	CreatedAt         time.Time
}

// PositionLabel renders a FIFO position the way the public page shows it.
func PositionLabel(position int) string {
	return fmt.Sprintf("%d순위", position)
}

func (r Row) categoryLabel() string {
	if r.Category == CategoryWaitlist && r.Position > 0 {
		return r.Category + " " + PositionLabel(r.Position)
	}
	return r.Category
}

// WriteRoster writes the header plus one line per row. Timestamps are rendered
// in loc, the club's local time. A UTF-8 BOM is prepended so spreadsheet
// applications pick up the Korean text.
func WriteRoster(w io.Writer, rows []Row, loc *time.Location) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			r.SessionTitle,
			r.categoryLabel(),
			r.Name,
			r.Phone,
			r.Email,
			r.EmergencyContact,
			r.EmergencyPhone,
			r.MedicalConditions,
			r.CreatedAt.In(loc).Format("2006-01-02 15:04"),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write roster row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Filename stamps the export with the current date in loc, matching the
// original dashboard's download names.
func Filename(now time.Time, loc *time.Location) string {
	return "participants_" + now.In(loc).Format("2006-01-02") + ".csv"
}
