package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"switchboard/internal/config"
	"switchboard/internal/db"
	"switchboard/internal/domain"
	"switchboard/internal/engine"
	"switchboard/internal/hub"
	"switchboard/internal/migrate"
)

const testSecret = "server-test-secret"

type testServer struct {
	BaseURL string
	Engine  engine.Engine
	Hub     *hub.Hub
	Client  *http.Client
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.SignupsEnabled = true
	cfg.Auth.BcryptCost = bcrypt.MinCost
	h := hub.New(cfg.Stream.Backlog)
	eng := engine.New(conn, h, cfg)

	handler, err := New(Config{
		Engine:   eng,
		Hub:      h,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return testServer{
		BaseURL: "http://" + ln.Addr().String() + "/v0",
		Engine:  eng,
		Hub:     h,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s testServer) seedUser(t *testing.T, email, password string) domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := domain.User{
		ID:          "user-" + email,
		Email:       email,
		DisplayName: "Test User",
		Password:    string(hash),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Enabled:     true,
	}
	if err := s.Engine.Repo.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return u
}

func (s testServer) token(t *testing.T, u domain.User) string {
	t.Helper()
	token, err := issueToken(u, testSecret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (s testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.BaseURL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestLoginAndWhoami(t *testing.T) {
	s := newTestServer(t)
	u := s.seedUser(t, "dispatch@example.com", "correct horse battery")

	resp := s.do(t, http.MethodPost, "/users/login", "", map[string]string{
		"email":    "dispatch@example.com",
		"password": "correct horse battery",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	login := decodeBody[struct {
		Token string `json:"token"`
	}](t, resp)
	if login.Token == "" {
		t.Fatal("login returned empty token")
	}

	resp = s.do(t, http.MethodGet, "/users/whoami", login.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("whoami status = %d", resp.StatusCode)
	}
	who := decodeBody[Principal](t, resp)
	if who.UserID != u.ID || who.Email != u.Email {
		t.Fatalf("whoami = %+v, want identity of %s", who, u.ID)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "dispatch@example.com", "correct horse battery")

	resp := s.do(t, http.MethodPost, "/users/login", "", map[string]string{
		"email":    "dispatch@example.com",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login with bad password status = %d, want 401", resp.StatusCode)
	}
}

func TestSignupPolicy(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/users/signup", "", map[string]string{
		"email":        "new@example.com",
		"password":     "short",
		"display_name": "New User",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short password status = %d, want 400", resp.StatusCode)
	}

	resp = s.do(t, http.MethodPost, "/users/signup", "", map[string]string{
		"email":        "new@example.com",
		"password":     "a long enough password",
		"display_name": "New User",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup status = %d, want 200", resp.StatusCode)
	}

	resp = s.do(t, http.MethodPost, "/users/signup", "", map[string]string{
		"email":        "new@example.com",
		"password":     "a long enough password",
		"display_name": "Duplicate",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", resp.StatusCode)
	}
}

func TestRequiresToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/jobs", "/resources", "/assignments", "/events"} {
		resp := s.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, resp.StatusCode)
		}
	}

	resp := s.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health without token = %d, want 200", resp.StatusCode)
	}

	// The OpenAPI document lives at the router root, outside the guarded
	// base path.
	root := strings.TrimSuffix(s.BaseURL, "/v0")
	oresp, err := s.Client.Get(root + "/openapi.json")
	if err != nil {
		t.Fatalf("GET /openapi.json: %v", err)
	}
	defer oresp.Body.Close()
	if oresp.StatusCode != http.StatusOK {
		t.Errorf("GET /openapi.json without token = %d, want 200", oresp.StatusCode)
	}
}

func TestAssignmentConflictStatus(t *testing.T) {
	s := newTestServer(t)
	u := s.seedUser(t, "dispatch@example.com", "correct horse battery")
	token := s.token(t, u)

	resp := s.do(t, http.MethodPost, "/jobs", token, map[string]any{
		"synopsis": "structure fire on 5th",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create job status = %d", resp.StatusCode)
	}
	job := decodeBody[domain.Job](t, resp)

	resp = s.do(t, http.MethodPost, "/resources", token, map[string]any{
		"display_name": "Engine 7",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create resource status = %d", resp.StatusCode)
	}
	res := decodeBody[domain.Resource](t, resp)

	assign := map[string]string{"job_id": job.ID, "resource_id": res.ID}
	resp = s.do(t, http.MethodPost, "/assignments", token, assign)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first assignment status = %d", resp.StatusCode)
	}
	resp = s.do(t, http.MethodPost, "/assignments", token, assign)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second assignment status = %d, want 409", resp.StatusCode)
	}

	resp = s.do(t, http.MethodPost, "/assignments", token, map[string]string{
		"job_id": job.ID, "resource_id": "no-such-resource",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("assignment to unknown resource status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamRequiresToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.Client.Get(s.BaseURL + "/stream")
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stream without token = %d, want 401", resp.StatusCode)
	}

	resp, err = s.Client.Get(s.BaseURL + "/stream?token=not-a-token")
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stream with bad token = %d, want 401", resp.StatusCode)
	}
}

func TestStreamDeliversMutations(t *testing.T) {
	s := newTestServer(t)
	u := s.seedUser(t, "dispatch@example.com", "correct horse battery")
	token := s.token(t, u)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/stream?token="+token, nil)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("stream content type = %q", ct)
	}

	cresp := s.do(t, http.MethodPost, "/jobs", token, map[string]any{
		"synopsis": "wires down on main",
	})
	if cresp.StatusCode != http.StatusOK {
		t.Fatalf("create job status = %d", cresp.StatusCode)
	}
	job := decodeBody[domain.Job](t, cresp)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev hub.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode stream event %q: %v", line, err)
		}
		if ev.Type != hub.EventJob || ev.ID != job.ID {
			t.Fatalf("stream event = %+v, want job %s", ev, job.ID)
		}
		return
	}
	t.Fatalf("stream closed before delivering event: %v", scanner.Err())
}

func TestValidationErrorsUseBadRequest(t *testing.T) {
	s := newTestServer(t)
	u := s.seedUser(t, "dispatch@example.com", "correct horse battery")
	token := s.token(t, u)

	resp := s.do(t, http.MethodPost, "/jobs", token, map[string]any{
		"synopsis": "",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty synopsis status = %d, want 400", resp.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("error code = %q, want bad_request", envelope.Error.Code)
	}
}
