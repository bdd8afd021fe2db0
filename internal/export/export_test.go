package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

func TestWriteRoster(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	created := time.Date(2025, 6, 1, 21, 30, 0, 0, time.UTC) // 06-02 06:30 KST

	rows := []Row{
		{
			SessionTitle:      "한강 새벽 러닝",
			Category:          CategoryParticipant,
			Name:              "Kim",
			Phone:             "010-1234-5678",
			Email:             "kim@example.com",
			EmergencyContact:  "Lee",
			EmergencyPhone:    "010-8765-4321",
			MedicalConditions: "천식",
			CreatedAt:         created,
		},
		{
			SessionTitle: "한강 새벽 러닝",
			Category:     CategoryWaitlist,
			Position:     1,
			Name:         "Park",
			Phone:        "010-0000-0000",
			CreatedAt:    created,
		},
	}

	var buf bytes.Buffer
	if err := WriteRoster(&buf, rows, seoul); err != nil {
		t.Fatalf("WriteRoster() error = %v", err)
	}

	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("output is missing the UTF-8 BOM")
	}

	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(out, []byte{0xEF, 0xBB, 0xBF}))).ReadAll()
	if err != nil {
		t.Fatalf("re-reading CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (header + 2 rows)", len(records))
	}

	if got := strings.Join(records[0], ","); !strings.HasPrefix(got, "세션,구분,이름") {
		t.Errorf("unexpected header: %q", got)
	}

	participant := records[1]
	if participant[1] != "참여자" {
		t.Errorf("participant category = %q, want 참여자", participant[1])
	}
	if participant[8] != "2025-06-02 06:30" {
		t.Errorf("timestamp = %q, want local KST rendering", participant[8])
	}

	waitlist := records[2]
	if waitlist[1] != "대기자 1순위" {
		t.Errorf("waitlist category = %q, want annotated position", waitlist[1])
	}
	if waitlist[4] != "" {
		t.Errorf("waitlist email = %q, want empty", waitlist[4])
	}
}

func TestFilename(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	// 23:30 UTC is already the next day in Seoul.
	now := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)

	if got := Filename(now, seoul); got != "participants_2025-06-02.csv" {
		t.Errorf("Filename() = %q, want participants_2025-06-02.csv", got)
	}
}

func TestPositionLabel(t *testing.T) {
	if got := PositionLabel(1); got != "1순위" {
		t.Errorf("PositionLabel(1) = %q, want 1순위", got)
	}
	if got := PositionLabel(12); got != "12순위" {
		t.Errorf("PositionLabel(12) = %q, want 12순위", got)
	}
}
