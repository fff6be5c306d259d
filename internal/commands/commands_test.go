package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"coursechat/internal/api"
	"coursechat/internal/auth"
	"coursechat/internal/models"
	"coursechat/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct {
	*httptest.Server

	mu   sync.Mutex
	role models.UserRole
	sent []models.SendRequest
}

func newServer(t *testing.T, role models.UserRole) *server {
	t.Helper()
	s := &server{role: role}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		writeJSON(w, models.AuthResponse{
			Token: "jwt-1",
			User:  models.User{ID: "u1", Name: "Ada Admin", Email: req.Email, Role: s.role},
		})
	})
	mux.HandleFunc("GET /api/admin/courses", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"courses": []models.Course{
			{ID: "c1", Code: "CS101", Title: "Intro", StudentCount: 12, Lecturer: &models.UserSummary{ID: "l1", Name: "Dr. Rivera"}},
		}})
	})
	mux.HandleFunc("POST /api/admin/users/{id}/ban", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.StudentSummary{UserSummary: models.UserSummary{ID: r.PathValue("id"), Name: "Sam"}, IsBanned: true})
	})
	mux.HandleFunc("GET /api/courses/my", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []models.Course{{ID: "c1", Code: "CS101", Title: "Intro", UnreadCount: 2}})
	})
	mux.HandleFunc("GET /api/courses/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		text := "Welcome"
		writeJSON(w, map[string]any{"messages": []models.Message{{
			ID: "m1", CourseID: "c1", SenderID: "l1", Content: &text, Type: models.MessageTypeText,
			CreatedAt: time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC),
			Sender:    &models.UserSummary{ID: "l1", Name: "Dr. Rivera"},
		}}})
	})
	mux.HandleFunc("POST /api/courses/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req models.SendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.sent = append(s.sent, req)
		s.mu.Unlock()
		writeJSON(w, models.Message{
			ID: "m2", CourseID: "c1", SenderID: "u1", Content: &req.Content, Type: models.MessageTypeText,
			ClientID: req.ClientID, CreatedAt: time.Now(),
		})
	})
	mux.HandleFunc("GET /api/courses/c1/messages/{id}/replies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"replies": []models.Message{}, "hasMore": false})
	})
	mux.HandleFunc("POST /api/courses/c1/read", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newEnv(t *testing.T, srv *server) (*Env, *bytes.Buffer) {
	t.Helper()
	var sess *auth.Session
	client := api.New(api.Config{
		BaseURL: srv.URL,
		Token: func() string {
			if sess == nil {
				return ""
			}
			return sess.Token()
		},
	})
	sess, err := auth.New(auth.Config{API: client})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &Env{API: client, Auth: sess, Out: out}, out
}

func execute(env *Env, args ...string) error {
	root := NewRootCommand(env)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestLogin(t *testing.T) {
	srv := newServer(t, models.UserRoleAdmin)
	env, out := newEnv(t, srv)

	require.NoError(t, execute(env, "login", "ada@example.com", "--password", "secret"))
	assert.Contains(t, out.String(), "Signed in as Ada Admin (ADMIN)")
	assert.Equal(t, "jwt-1", env.Auth.Token())

	out.Reset()
	require.NoError(t, execute(env, "whoami"))
	assert.Equal(t, "Ada Admin <ada@example.com> ADMIN\n", out.String())

	out.Reset()
	require.NoError(t, execute(env, "logout"))
	assert.Empty(t, env.Auth.Token())
	assert.ErrorIs(t, execute(env, "whoami"), ErrSignedOut)
}

func TestLogin_WrongPassword(t *testing.T) {
	srv := newServer(t, models.UserRoleAdmin)
	env, _ := newEnv(t, srv)

	err := execute(env, "login", "ada@example.com", "--password", "nope")
	require.Error(t, err)
	assert.Empty(t, env.Auth.Token())
}

func TestAdmin(t *testing.T) {
	srv := newServer(t, models.UserRoleAdmin)
	env, out := newEnv(t, srv)

	assert.ErrorIs(t, execute(env, "admin", "courses"), ErrSignedOut)

	require.NoError(t, execute(env, "login", "ada@example.com", "--password", "secret"))
	out.Reset()

	require.NoError(t, execute(env, "admin", "courses"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "CODE")
	assert.Contains(t, lines[1], "CS101")
	assert.Contains(t, lines[1], "Dr. Rivera")

	out.Reset()
	require.NoError(t, execute(env, "admin", "ban", "s1"))
	assert.Equal(t, "Sam is banned\n", out.String())

	assert.Error(t, execute(env, "admin", "ban"))
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	srv := newServer(t, models.UserRoleStudent)
	env, _ := newEnv(t, srv)

	require.NoError(t, execute(env, "login", "sam@example.com", "--password", "secret"))
	assert.ErrorIs(t, execute(env, "admin", "courses"), ErrNotAdmin)
}

func TestChat(t *testing.T) {
	srv := newServer(t, models.UserRoleStudent)
	env, out := newEnv(t, srv)
	require.NoError(t, execute(env, "login", "sam@example.com", "--password", "secret"))

	ctx := t.Context()
	sess := session.New(ctx, session.Config{API: env.API, Identity: env.Auth})
	t.Cleanup(func() {
		_ = sess.Close()
	})
	require.NoError(t, sess.LoadCourses(ctx))

	out.Reset()
	chat := NewChat(sess, out)
	in := strings.NewReader("/history\nhello everyone\n/nope\n/quit\nnever sent\n")
	require.NoError(t, chat.Run(ctx, in))

	assert.Contains(t, out.String(), "* CS101 Intro")
	assert.Contains(t, out.String(), "09:30 [m1] Dr. Rivera: Welcome")
	assert.Contains(t, out.String(), "! unknown command /nope")

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.sent, 1)
	assert.Equal(t, "hello everyone", srv.sent[0].Content)
	assert.NotEmpty(t, srv.sent[0].ClientID)
}

func TestChat_Exec(t *testing.T) {
	srv := newServer(t, models.UserRoleStudent)
	env, out := newEnv(t, srv)
	require.NoError(t, execute(env, "login", "sam@example.com", "--password", "secret"))

	ctx := t.Context()
	sess := session.New(ctx, session.Config{API: env.API, Identity: env.Auth})
	t.Cleanup(func() {
		_ = sess.Close()
	})
	require.NoError(t, sess.LoadCourses(ctx))
	chat := NewChat(sess, out)

	_, err := chat.Exec(ctx, "/open MATH999")
	assert.EqualError(t, err, `no course "MATH999"`)

	_, err = chat.Exec(ctx, "/thread missing")
	assert.EqualError(t, err, `no message "missing"`)

	out.Reset()
	_, err = chat.Exec(ctx, "/reply m1")
	require.NoError(t, err)
	assert.Equal(t, "replying to: Welcome\n", out.String())

	_, err = chat.Exec(ctx, "/upload")
	assert.EqualError(t, err, "usage: /upload <path>")

	quit, err := chat.Exec(ctx, "/exit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestPrintEvents(t *testing.T) {
	events := make(chan models.SocketEvent, 3)
	events <- models.SocketEvent{
		Event: models.EventNewMessage,
		Data:  json.RawMessage(`{"id":"m5","courseId":"c1","senderId":"u2","content":"Is the lab open?","type":"TEXT","sender":{"id":"u2","name":"Kim"}}`),
	}
	events <- models.SocketEvent{
		Event: models.EventNewMessage,
		Data:  json.RawMessage(`{"id":"m6","courseId":"c1","senderId":"u1","content":"mine","type":"TEXT"}`),
	}
	events <- models.SocketEvent{
		Event: models.EventMessagePinned,
		Data:  json.RawMessage(`{"courseId":"c1","messageId":"m5"}`),
	}
	close(events)

	out := &bytes.Buffer{}
	require.NoError(t, PrintEvents(t.Context(), out, func() string { return "u1" }, events))
	assert.Equal(t, "> Kim: Is the lab open?\n", out.String())
}
