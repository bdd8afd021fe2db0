package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"runcrew/internal/api/api"
	"runcrew/internal/auth"
	"runcrew/internal/dto"
	"runcrew/internal/mailer"
	"runcrew/internal/model"
	"runcrew/internal/repo"
	"runcrew/internal/service"
)

// stubRepo is an in-memory repo.Repository so handlers can be exercised over
// httptest without a database.
type stubRepo struct {
	sessions     map[int64]*model.Session
	participants map[int64]*model.Participant
	waitlist     map[int64]*model.WaitlistParticipant
	admins       map[string]*model.Admin
	nextID       int64
	countErr     error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		sessions:     map[int64]*model.Session{},
		participants: map[int64]*model.Participant{},
		waitlist:     map[int64]*model.WaitlistParticipant{},
		admins:       map[string]*model.Admin{},
	}
}

func (r *stubRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *stubRepo) CreateSession(_ context.Context, s *model.Session) (int64, error) {
	cp := *s
	cp.ID = r.id()
	cp.CurrentParticipants = 0
	cp.CreatedAt = time.Now()
	r.sessions[cp.ID] = &cp
	return cp.ID, nil
}

func (r *stubRepo) UpdateSession(_ context.Context, s *model.Session) error {
	existing, ok := r.sessions[s.ID]
	if !ok {
		return repo.ErrSessionNotFound
	}
	existing.Title = s.Title
	existing.Description = s.Description
	existing.Date = s.Date
	existing.Time = s.Time
	existing.Location = s.Location
	existing.MaxParticipants = s.MaxParticipants
	existing.RegistrationOpenDate = s.RegistrationOpenDate
	existing.ChatLink = s.ChatLink
	return nil
}

func (r *stubRepo) GetSessionByID(_ context.Context, id int64) (*model.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, repo.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *stubRepo) GetAllSessions(_ context.Context) ([]model.Session, error) {
	var out []model.Session
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) GetUpcomingSessions(_ context.Context, fromDate string) ([]model.Session, error) {
	var out []model.Session
	for _, s := range r.sessions {
		if s.Date >= fromDate {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) SetSessionImage(_ context.Context, id int64, url *string) error {
	s, ok := r.sessions[id]
	if !ok {
		return repo.ErrSessionNotFound
	}
	s.ImageURL = url
	return nil
}

func (r *stubRepo) DeleteSessionCascadeTx(_ context.Context, id int64) (*string, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, repo.ErrSessionNotFound
	}
	for pid, p := range r.participants {
		if p.SessionID == id {
			delete(r.participants, pid)
		}
	}
	for wid, w := range r.waitlist {
		if w.SessionID == id {
			delete(r.waitlist, wid)
		}
	}
	url := s.ImageURL
	delete(r.sessions, id)
	return url, nil
}

func (r *stubRepo) RegisterParticipantTx(_ context.Context, p *model.Participant, now time.Time) (int64, error) {
	s, ok := r.sessions[p.SessionID]
	if !ok {
		return 0, repo.ErrSessionNotFound
	}
	if s.CurrentParticipants >= s.MaxParticipants {
		return 0, repo.ErrSessionFull
	}
	if s.RegistrationOpenDate != nil && now.Before(*s.RegistrationOpenDate) {
		return 0, repo.ErrRegistrationNotOpen
	}
	cp := *p
	cp.ID = r.id()
	cp.CreatedAt = now
	r.participants[cp.ID] = &cp
	s.CurrentParticipants++
	p.ID = cp.ID
	p.CreatedAt = cp.CreatedAt
	return cp.ID, nil
}

func (r *stubRepo) GetParticipantByID(_ context.Context, id int64) (*model.Participant, error) {
	p, ok := r.participants[id]
	if !ok {
		return nil, repo.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *stubRepo) GetParticipants(_ context.Context, f repo.ParticipantFilter) ([]model.Participant, error) {
	var out []model.Participant
	for _, p := range r.participants {
		if f.SessionID != 0 && p.SessionID != f.SessionID {
			continue
		}
		s, ok := r.sessions[p.SessionID]
		if !ok {
			continue
		}
		if f.Scope == "upcoming" && s.Date < f.Today {
			continue
		}
		if f.Scope == "past" && s.Date >= f.Today {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *stubRepo) DeleteParticipantTx(_ context.Context, id int64) (int64, bool, error) {
	p, ok := r.participants[id]
	if !ok {
		return 0, false, repo.ErrParticipantNotFound
	}
	s := r.sessions[p.SessionID]
	wasFull := s.CurrentParticipants >= s.MaxParticipants
	delete(r.participants, id)
	if s.CurrentParticipants > 0 {
		s.CurrentParticipants--
	}
	return p.SessionID, wasFull, nil
}

func (r *stubRepo) orderedWaitlist(sessionID int64) []*model.WaitlistParticipant {
	var out []*model.WaitlistParticipant
	for _, w := range r.waitlist {
		if sessionID == 0 || w.SessionID == sessionID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *stubRepo) JoinWaitlistTx(_ context.Context, w *model.WaitlistParticipant) (int, error) {
	if _, ok := r.sessions[w.SessionID]; !ok {
		return 0, repo.ErrSessionNotFound
	}
	cp := *w
	cp.ID = r.id()
	cp.CreatedAt = time.Now()
	r.waitlist[cp.ID] = &cp
	w.ID = cp.ID
	w.CreatedAt = cp.CreatedAt
	return len(r.orderedWaitlist(w.SessionID)), nil
}

func (r *stubRepo) GetWaitlist(_ context.Context, sessionID int64) ([]model.WaitlistParticipant, error) {
	var out []model.WaitlistParticipant
	for _, w := range r.orderedWaitlist(sessionID) {
		out = append(out, *w)
	}
	return out, nil
}

func (r *stubRepo) CountWaitlist(_ context.Context, sessionID int64) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return len(r.orderedWaitlist(sessionID)), nil
}

func (r *stubRepo) GetWaitlistHead(_ context.Context, sessionID int64) (*model.WaitlistParticipant, error) {
	entries := r.orderedWaitlist(sessionID)
	if len(entries) == 0 {
		return nil, repo.ErrWaitlistEntryNotFound
	}
	cp := *entries[0]
	return &cp, nil
}

func (r *stubRepo) DeleteWaitlistEntry(_ context.Context, id int64) error {
	if _, ok := r.waitlist[id]; !ok {
		return repo.ErrWaitlistEntryNotFound
	}
	delete(r.waitlist, id)
	return nil
}

func (r *stubRepo) GetAdminByEmail(_ context.Context, email string) (*model.Admin, error) {
	a, ok := r.admins[email]
	if !ok {
		return nil, repo.ErrAdminNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *stubRepo) EnsureAdmin(_ context.Context, a *model.Admin) error {
	cp := *a
	if cp.ID == 0 {
		cp.ID = r.id()
	}
	r.admins[cp.Email] = &cp
	return nil
}

func (r *stubRepo) MigrateUp(string) error   { return nil }
func (r *stubRepo) MigrateDown(string) error { return nil }

type stubPublisher struct {
	published [][]byte
	err       error
}

func (p *stubPublisher) Publish(message []byte) error {
	p.published = append(p.published, message)
	return p.err
}

type stubImages struct {
	saved   int
	removed []string
}

func (s *stubImages) Save(sessionID int64, data []byte) (string, error) {
	s.saved++
	return fmt.Sprintf("/images/session_%d_test.png", sessionID), nil
}

func (s *stubImages) Remove(url string) error {
	s.removed = append(s.removed, url)
	return nil
}

type testEnv struct {
	app    *ginext.Engine
	repo   *stubRepo
	rbt    *stubPublisher
	images *stubImages
	tokens *auth.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	zlog.Init()

	r := newStubRepo()
	rbt := &stubPublisher{}
	images := &stubImages{}
	tokens := auth.NewManager("test-secret", time.Hour)
	log := zlog.Logger
	mail := mailer.New(mailer.Config{Enabled: false}, &log)
	loc := time.FixedZone("KST", 9*60*60)

	svc := service.NewService(r, &log, rbt, mail, images, tokens, loc)
	app := api.NewRouters(&api.Routers{Service: svc, Auth: tokens, ImagesDir: t.TempDir()})

	return &testEnv{app: app, repo: r, rbt: rbt, images: images, tokens: tokens}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.app.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) (json.RawMessage, *dto.Error) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *dto.Error      `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return resp.Data, resp.Error
}

func (e *testEnv) addSession(t *testing.T, max int, openAt *time.Time) int64 {
	return e.addSessionOn(t, "2099-01-01", max, openAt)
}

func (e *testEnv) addSessionOn(t *testing.T, date string, max int, openAt *time.Time) int64 {
	t.Helper()
	id, err := e.repo.CreateSession(context.Background(), &model.Session{
		Title:                "한강 새벽 러닝",
		Description:          "6km easy pace",
		Date:                 date,
		Time:                 "06:30",
		Location:             "Banpo bridge",
		MaxParticipants:      max,
		RegistrationOpenDate: openAt,
	})
	if err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	return id
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	hash, err := auth.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	if err := e.repo.EnsureAdmin(context.Background(), &model.Admin{
		Email:        "admin@example.com",
		Name:         "admin",
		PasswordHash: hash,
	}); err != nil {
		t.Fatalf("seeding admin: %v", err)
	}
	token, _, err := e.tokens.IssueToken(1, "admin@example.com", time.Now())
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return token
}

func registerBody(name string) map[string]any {
	return map[string]any{
		"name":            name,
		"phone":           "010-1234-5678",
		"email":           name + "@example.com",
		"privacy_consent": true,
	}
}

func TestRegistrationFillsSessionThenWaitlists(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 2, nil)
	base := fmt.Sprintf("/v1/sessions/%d", sessionID)

	// Kim and Lee take the two seats.
	for i, name := range []string{"Kim", "Lee"} {
		w := e.request(t, http.MethodPost, base+"/register", "", registerBody(name))
		if w.Code != http.StatusCreated {
			t.Fatalf("register %s: status = %d, body %s", name, w.Code, w.Body.String())
		}
		if got := e.repo.sessions[sessionID].CurrentParticipants; got != i+1 {
			t.Fatalf("after %s: current_participants = %d, want %d", name, got, i+1)
		}
	}

	// The session is now full: Park is turned away towards the waitlist.
	w := e.request(t, http.MethodPost, base+"/register", "", registerBody("Park"))
	if w.Code != http.StatusConflict {
		t.Fatalf("register Park: status = %d, want 409", w.Code)
	}
	if _, derr := decodeEnvelope(t, w); derr == nil || derr.Code != dto.SessionFull {
		t.Fatalf("register Park: error = %+v, want %s", derr, dto.SessionFull)
	}

	w = e.request(t, http.MethodPost, base+"/waitlist", "", map[string]any{
		"name":  "Park",
		"phone": "010-0000-0000",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("waitlist Park: status = %d, body %s", w.Code, w.Body.String())
	}
	data, _ := decodeEnvelope(t, w)
	var entry dto.WaitlistEntryResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("decoding waitlist entry: %v", err)
	}
	if entry.Position != 1 || entry.Label != "1순위" {
		t.Errorf("Park position = %d (%q), want 1 (1순위)", entry.Position, entry.Label)
	}

	// Admin frees a seat: the counter drops and a freed-slot message goes out,
	// but Park is not promoted automatically.
	token := e.adminToken(t)
	var kimID int64
	for id, p := range e.repo.participants {
		if p.Name == "Kim" {
			kimID = id
		}
	}
	w = e.request(t, http.MethodDelete, fmt.Sprintf("/v1/admin/participants/%d", kimID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete Kim: status = %d, body %s", w.Code, w.Body.String())
	}
	if got := e.repo.sessions[sessionID].CurrentParticipants; got != 1 {
		t.Errorf("after deletion: current_participants = %d, want 1", got)
	}
	if len(e.rbt.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(e.rbt.published))
	}
	var msg dto.SlotFreedMessage
	if err := json.Unmarshal(e.rbt.published[0], &msg); err != nil {
		t.Fatalf("decoding freed-slot message: %v", err)
	}
	if msg.SessionID != sessionID {
		t.Errorf("freed-slot session_id = %d, want %d", msg.SessionID, sessionID)
	}
	if got := len(e.repo.waitlist); got != 1 {
		t.Errorf("waitlist size after deletion = %d, want 1 (no auto promotion)", got)
	}

	// The freed seat is open for direct registration again.
	w = e.request(t, http.MethodPost, base+"/register", "", registerBody("Choi"))
	if w.Code != http.StatusCreated {
		t.Errorf("register Choi after freed seat: status = %d", w.Code)
	}
}

func TestRegistrationValidation(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 5, nil)
	path := fmt.Sprintf("/v1/sessions/%d/register", sessionID)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"phone": "010", "email": "a@b", "privacy_consent": true}},
		{"missing phone", map[string]any{"name": "Kim", "email": "a@b", "privacy_consent": true}},
		{"email without @", map[string]any{"name": "Kim", "phone": "010", "email": "nope", "privacy_consent": true}},
		{"no privacy consent", map[string]any{"name": "Kim", "phone": "010", "email": "a@b", "privacy_consent": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.request(t, http.MethodPost, path, "", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	if len(e.repo.participants) != 0 {
		t.Errorf("validation failures persisted %d participants, want 0", len(e.repo.participants))
	}
}

func TestRegistrationPendingBeforeOpenDate(t *testing.T) {
	e := newTestEnv(t)
	openAt := time.Now().Add(48 * time.Hour)
	sessionID := e.addSession(t, 5, &openAt)

	w := e.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/register", sessionID), "", registerBody("Kim"))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if _, derr := decodeEnvelope(t, w); derr == nil || derr.Code != dto.RegistrationNotOpen {
		t.Errorf("error = %+v, want %s", derr, dto.RegistrationNotOpen)
	}

	// The listing reports the same pending state.
	w = e.request(t, http.MethodGet, fmt.Sprintf("/v1/sessions/%d", sessionID), "", nil)
	data, _ := decodeEnvelope(t, w)
	var session dto.SessionResponse
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if session.RegistrationStatus != "pending" {
		t.Errorf("registration_status = %q, want pending", session.RegistrationStatus)
	}
}

func TestWaitlistRejectedWhileSeatsRemain(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 2, nil)

	w := e.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/waitlist", sessionID), "", map[string]any{
		"name":  "Park",
		"phone": "010-0000-0000",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(e.repo.waitlist) != 0 {
		t.Errorf("waitlist size = %d, want 0", len(e.repo.waitlist))
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t)

	w := e.request(t, http.MethodGet, "/v1/admin/sessions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	w = e.request(t, http.MethodGet, "/v1/admin/sessions", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}
}

func TestAdminLogin(t *testing.T) {
	e := newTestEnv(t)
	e.adminToken(t) // seeds the admin account

	w := e.request(t, http.MethodPost, "/v1/admin/login", "", map[string]any{
		"email":    "admin@example.com",
		"password": "hunter2hunter2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body %s", w.Code, w.Body.String())
	}
	data, _ := decodeEnvelope(t, w)
	var tok dto.TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		t.Fatalf("decoding token: %v", err)
	}
	if tok.Token == "" {
		t.Error("login returned an empty token")
	}

	w = e.request(t, http.MethodPost, "/v1/admin/login", "", map[string]any{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", w.Code)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 2, nil)
	token := e.adminToken(t)
	base := fmt.Sprintf("/v1/sessions/%d", sessionID)

	for _, name := range []string{"Kim", "Lee"} {
		if w := e.request(t, http.MethodPost, base+"/register", "", registerBody(name)); w.Code != http.StatusCreated {
			t.Fatalf("register %s: status = %d", name, w.Code)
		}
	}
	if w := e.request(t, http.MethodPost, base+"/waitlist", "", map[string]any{"name": "Park", "phone": "010"}); w.Code != http.StatusCreated {
		t.Fatalf("waitlist Park failed")
	}
	url := "/images/session_1_test.png"
	e.repo.sessions[sessionID].ImageURL = &url

	w := e.request(t, http.MethodDelete, fmt.Sprintf("/v1/admin/sessions/%d", sessionID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete session: status = %d, body %s", w.Code, w.Body.String())
	}

	if len(e.repo.sessions) != 0 || len(e.repo.participants) != 0 || len(e.repo.waitlist) != 0 {
		t.Errorf("cascade left sessions=%d participants=%d waitlist=%d, want all 0",
			len(e.repo.sessions), len(e.repo.participants), len(e.repo.waitlist))
	}
	if len(e.images.removed) != 1 || e.images.removed[0] != url {
		t.Errorf("image removal = %v, want [%s]", e.images.removed, url)
	}

	// Every row lookup now misses.
	if w := e.request(t, http.MethodGet, base, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted session: status = %d, want 404", w.Code)
	}
}

func TestDeleteParticipantTwice(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 2, nil)
	token := e.adminToken(t)

	w := e.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/register", sessionID), "", registerBody("Kim"))
	if w.Code != http.StatusCreated {
		t.Fatalf("register Kim: status = %d", w.Code)
	}
	var kimID int64
	for id := range e.repo.participants {
		kimID = id
	}

	path := fmt.Sprintf("/v1/admin/participants/%d", kimID)
	if w := e.request(t, http.MethodDelete, path, token, nil); w.Code != http.StatusOK {
		t.Fatalf("first delete: status = %d, want 200", w.Code)
	}
	if got := e.repo.sessions[sessionID].CurrentParticipants; got != 0 {
		t.Fatalf("after first delete: current_participants = %d, want 0", got)
	}

	// A repeated deletion of the same id must report the participant gone and
	// must not decrement the counter a second time.
	if w := e.request(t, http.MethodDelete, path, token, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
	if got := e.repo.sessions[sessionID].CurrentParticipants; got != 0 {
		t.Errorf("after second delete: current_participants = %d, want 0", got)
	}
}

func TestListParticipantsFiltering(t *testing.T) {
	e := newTestEnv(t)
	pastID := e.addSessionOn(t, "2000-01-01", 5, nil)
	futureID := e.addSessionOn(t, "2099-01-01", 5, nil)
	token := e.adminToken(t)

	for sessionID, name := range map[int64]string{pastID: "Old", futureID: "New"} {
		w := e.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/register", sessionID), "", registerBody(name))
		if w.Code != http.StatusCreated {
			t.Fatalf("register %s: status = %d", name, w.Code)
		}
	}

	list := func(t *testing.T, query string) []dto.ParticipantResponse {
		t.Helper()
		w := e.request(t, http.MethodGet, "/v1/admin/participants"+query, token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list %q: status = %d, body %s", query, w.Code, w.Body.String())
		}
		data, _ := decodeEnvelope(t, w)
		var resp []dto.ParticipantResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("decoding participants: %v", err)
		}
		return resp
	}

	if got := list(t, ""); len(got) != 2 {
		t.Errorf("unfiltered: %d participants, want 2", len(got))
	}
	if got := list(t, "?scope=upcoming"); len(got) != 1 || got[0].Name != "New" {
		t.Errorf("scope=upcoming: %+v, want only New", got)
	}
	if got := list(t, "?scope=past"); len(got) != 1 || got[0].Name != "Old" {
		t.Errorf("scope=past: %+v, want only Old", got)
	}
	if got := list(t, fmt.Sprintf("?session_id=%d", futureID)); len(got) != 1 || got[0].SessionID != futureID {
		t.Errorf("session filter: %+v, want only the future session", got)
	}

	if w := e.request(t, http.MethodGet, "/v1/admin/participants?scope=recent", token, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bogus scope: status = %d, want 400", w.Code)
	}
}

func TestGetParticipant(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 5, nil)
	token := e.adminToken(t)

	if w := e.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/register", sessionID), "", registerBody("Kim")); w.Code != http.StatusCreated {
		t.Fatalf("register Kim failed")
	}
	var kimID int64
	for id := range e.repo.participants {
		kimID = id
	}

	w := e.request(t, http.MethodGet, fmt.Sprintf("/v1/admin/participants/%d", kimID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get participant: status = %d, body %s", w.Code, w.Body.String())
	}
	data, _ := decodeEnvelope(t, w)
	var p dto.ParticipantResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decoding participant: %v", err)
	}
	if p.Name != "Kim" || p.SessionID != sessionID {
		t.Errorf("participant = %+v, want Kim on session %d", p, sessionID)
	}

	if w := e.request(t, http.MethodGet, "/v1/admin/participants/9999", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing participant: status = %d, want 404", w.Code)
	}
}

func TestUpdateSession(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 5, nil)
	token := e.adminToken(t)

	if w := e.request(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/register", sessionID), "", registerBody("Kim")); w.Code != http.StatusCreated {
		t.Fatalf("register Kim failed")
	}

	body := map[string]any{
		"title":            "남산 야간 러닝",
		"description":      "8km hill repeats",
		"date":             "2099-02-01",
		"time":             "20:00",
		"location":         "Namsan stairs",
		"max_participants": 10,
	}
	w := e.request(t, http.MethodPut, fmt.Sprintf("/v1/admin/sessions/%d", sessionID), token, body)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", w.Code, w.Body.String())
	}
	data, _ := decodeEnvelope(t, w)
	var updated dto.SessionResponse
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if updated.Title != "남산 야간 러닝" || updated.MaxParticipants != 10 {
		t.Errorf("updated session = %+v, want new title and capacity", updated)
	}
	if updated.CurrentParticipants != 1 {
		t.Errorf("current_participants = %d, want 1 (update must not touch the counter)", updated.CurrentParticipants)
	}

	if w := e.request(t, http.MethodPut, "/v1/admin/sessions/9999", token, body); w.Code != http.StatusNotFound {
		t.Errorf("update missing session: status = %d, want 404", w.Code)
	}
}

func TestListingsFailWhenWaitlistCountFails(t *testing.T) {
	e := newTestEnv(t)
	e.addSession(t, 5, nil)
	token := e.adminToken(t)

	e.repo.countErr = fmt.Errorf("connection reset")

	if w := e.request(t, http.MethodGet, "/v1/sessions", "", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("public listing: status = %d, want 500", w.Code)
	}
	if w := e.request(t, http.MethodGet, "/v1/admin/sessions", token, nil); w.Code != http.StatusInternalServerError {
		t.Errorf("admin listing: status = %d, want 500", w.Code)
	}
}

func TestExportRoster(t *testing.T) {
	e := newTestEnv(t)
	sessionID := e.addSession(t, 1, nil)
	token := e.adminToken(t)
	base := fmt.Sprintf("/v1/sessions/%d", sessionID)

	if w := e.request(t, http.MethodPost, base+"/register", "", registerBody("Kim")); w.Code != http.StatusCreated {
		t.Fatalf("register Kim failed")
	}
	if w := e.request(t, http.MethodPost, base+"/waitlist", "", map[string]any{"name": "Park", "phone": "010"}); w.Code != http.StatusCreated {
		t.Fatalf("waitlist Park failed")
	}

	w := e.request(t, http.MethodGet, "/v1/admin/export", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: status = %d, body %s", w.Code, w.Body.String())
	}

	disposition := w.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, "participants_") || !strings.Contains(disposition, ".csv") {
		t.Errorf("Content-Disposition = %q, want a date-stamped CSV filename", disposition)
	}

	body := w.Body.String()
	if !strings.Contains(body, "한강 새벽 러닝") {
		t.Error("export is missing the session title")
	}
	if !strings.Contains(body, "참여자") || !strings.Contains(body, "대기자 1순위") {
		t.Errorf("export is missing category labels: %q", body)
	}

	lines := strings.Count(strings.TrimSpace(body), "\n") + 1
	if lines != 3 {
		t.Errorf("export has %d lines, want 3 (header + participant + waitlist)", lines)
	}
}
