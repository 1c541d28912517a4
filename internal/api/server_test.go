package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavlagaa/lavlagaa/internal/auth"
	"github.com/lavlagaa/lavlagaa/internal/log"
	"github.com/lavlagaa/lavlagaa/internal/pipeline"
	"github.com/lavlagaa/lavlagaa/internal/session"
	"github.com/lavlagaa/lavlagaa/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeSessionStore is an in-memory SessionStore.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	messages map[uuid.UUID][]session.Message
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[uuid.UUID]*session.Session),
		messages: make(map[uuid.UUID][]session.Message),
	}
}

func (f *fakeSessionStore) CreateSession(_ context.Context, userID uuid.UUID, title *string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess := &session.Session{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessionStore) GetSession(_ context.Context, id uuid.UUID) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

func (f *fakeSessionStore) ListSessions(_ context.Context, userID uuid.UUID, _, _ int32) ([]session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return session.ErrSessionNotFound
	}
	delete(f.sessions, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeSessionStore) ListMessages(_ context.Context, sessionID uuid.UUID, _ int32) ([]session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Message, len(f.messages[sessionID]))
	copy(out, f.messages[sessionID])
	return out, nil
}

// fakeAnswerer streams canned deltas, then fails or returns the full answer.
type fakeAnswerer struct {
	deltas []string
	answer string
	err    error
}

func (f *fakeAnswerer) Answer(ctx context.Context, _ uuid.UUID, _ string, stream pipeline.StreamFunc) (string, error) {
	return f.AnswerOnce(ctx, "", stream)
}

func (f *fakeAnswerer) AnswerOnce(ctx context.Context, _ string, stream pipeline.StreamFunc) (string, error) {
	for _, d := range f.deltas {
		if stream != nil {
			if err := stream(ctx, d); err != nil {
				return "", err
			}
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// fakeUserStore satisfies auth.UserStore.
type fakeUserStore struct {
	mu      sync.Mutex
	byEmail map[string]*session.User
	byID    map[uuid.UUID]*session.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: make(map[string]*session.User), byID: make(map[uuid.UUID]*session.User)}
}

func (f *fakeUserStore) CreateUser(_ context.Context, email, name string, picture, passwordHash, googleSub *string) (*session.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[email]; ok {
		return nil, session.ErrEmailTaken
	}
	u := &session.User{ID: uuid.New(), Email: email, Name: name, Picture: picture, PasswordHash: passwordHash, GoogleSub: googleSub, CreatedAt: time.Now()}
	f.byEmail[email] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*session.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return nil, session.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetUser(_ context.Context, id uuid.UUID) (*session.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, session.ErrUserNotFound
	}
	return u, nil
}

// testEnv bundles a running server with its fakes and a signed-in user.
type testEnv struct {
	server  *httptest.Server
	store   *fakeSessionStore
	users   *fakeUserStore
	userID  uuid.UUID
	token   string
	answers *fakeAnswerer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserStore()
	store := newFakeSessionStore()
	answers := &fakeAnswerer{deltas: []string{"Сайн", " ", "байна"}, answer: "Сайн байна"}

	hash, err := auth.HashPassword("нууц үг")
	require.NoError(t, err)
	user, err := users.CreateUser(context.Background(), "bat@example.mn", "Бат", nil, &hash, nil)
	require.NoError(t, err)

	tokens := auth.NewManager(testSecret, 30*time.Minute, 30*24*time.Hour)
	service := auth.NewService(users, tokens, nil, true, log.NewNop())

	srv, err := NewServer(Config{
		Store:         store,
		Auth:          service,
		Pipeline:      answers,
		Logger:        log.NewNop(),
		RatePerSecond: 100,
		RateBurst:     100,
	})
	require.NoError(t, err)

	pair, err := tokens.IssuePair(user.ID)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:  ts,
		store:   store,
		users:   users,
		userID:  user.ID,
		token:   pair.AccessToken,
		answers: answers,
	}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readBody(t, resp))

	// No database pool wired in tests, so readiness must refuse.
	resp = env.request(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestPasswordLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/auth/login", "",
		PasswordLoginRequest{Email: "bat@example.mn", Password: "нууц үг"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	login := decodeBody[LoginResponse](t, resp)
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)
	assert.Equal(t, "bearer", login.TokenType)
	require.NotNil(t, login.User)
	assert.Equal(t, "bat@example.mn", login.User.Email)
	assert.Nil(t, login.User.PasswordHash, "password hash must never serialize")

	t.Run("wrong password", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/auth/login", "",
			PasswordLoginRequest{Email: "bat@example.mn", Password: "буруу"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("refresh", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/auth/refresh", "",
			RefreshRequest{RefreshToken: login.RefreshToken})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		pair := decodeBody[auth.TokenPair](t, resp)
		assert.NotEmpty(t, pair.AccessToken)
	})

	t.Run("refresh with access token", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/auth/refresh", "",
			RefreshRequest{RefreshToken: login.AccessToken})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("requires auth", func(t *testing.T) {
		resp := env.request(t, http.MethodGet, "/api/sessions", "", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	resp := env.request(t, http.MethodPost, "/api/sessions", env.token,
		CreateSessionRequest{Title: "Лавлагаа асуултууд"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[session.Session](t, resp)
	assert.Equal(t, env.userID, created.UserID)
	require.NotNil(t, created.Title)
	assert.Equal(t, "Лавлагаа асуултууд", *created.Title)

	t.Run("list includes created", func(t *testing.T) {
		resp := env.request(t, http.MethodGet, "/api/sessions", env.token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[map[string]json.RawMessage](t, resp)
		var sessions []session.Session
		require.NoError(t, json.Unmarshal(body["sessions"], &sessions))
		require.Len(t, sessions, 1)
		assert.Equal(t, created.ID, sessions[0].ID)
	})

	t.Run("foreign session reads as missing", func(t *testing.T) {
		other, err := env.store.CreateSession(context.Background(), uuid.New(), nil)
		require.NoError(t, err)

		resp := env.request(t, http.MethodGet, "/api/sessions/"+other.ID.String()+"/messages", env.token, nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("delete", func(t *testing.T) {
		resp := env.request(t, http.MethodDelete, "/api/sessions/"+created.ID.String(), env.token, nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = env.request(t, http.MethodDelete, "/api/sessions/"+created.ID.String(), env.token, nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.store.CreateSession(context.Background(), env.userID, nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/api/chat/stream", env.token,
		ChatRequest{SessionID: sess.ID.String(), Query: "Иргэний үнэмлэх хаанаас авах вэ?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := testutil.ParseSSEEvents(t, readBody(t, resp))

	chunks := testutil.FindAllEvents(events, "chunk")
	require.Len(t, chunks, 3)
	var texts []string
	for _, c := range chunks {
		var data SSEChunkData
		require.NoError(t, json.Unmarshal([]byte(c.Data), &data))
		texts = append(texts, data.Text)
	}
	assert.Equal(t, []string{"Сайн", " ", "байна"}, texts)

	done := testutil.FindEvent(events, "done")
	require.NotNil(t, done)
	var doneData SSEDoneData
	require.NoError(t, json.Unmarshal([]byte(done.Data), &doneData))
	assert.Equal(t, "Сайн байна", doneData.Response)
	assert.Equal(t, sess.ID.String(), doneData.SessionID)

	assert.Nil(t, testutil.FindEvent(events, "error"))
}

func TestChatStream_Errors(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.store.CreateSession(context.Background(), env.userID, nil)
	require.NoError(t, err)

	t.Run("unknown session", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/chat/stream", env.token,
			ChatRequest{SessionID: uuid.NewString(), Query: "Асуулт?"})
		events := testutil.ParseSSEEvents(t, readBody(t, resp))
		errEvent := testutil.FindEvent(events, "error")
		require.NotNil(t, errEvent)
		assert.Contains(t, errEvent.Data, "SESSION_NOT_FOUND")
	})

	t.Run("missing query", func(t *testing.T) {
		resp := env.request(t, http.MethodPost, "/api/chat/stream", env.token,
			ChatRequest{SessionID: sess.ID.String()})
		events := testutil.ParseSSEEvents(t, readBody(t, resp))
		errEvent := testutil.FindEvent(events, "error")
		require.NotNil(t, errEvent)
		assert.Contains(t, errEvent.Data, "MISSING_QUERY")
	})

	t.Run("mid-stream failure keeps emitted chunks", func(t *testing.T) {
		env.answers.deltas = []string{"Сайн"}
		env.answers.err = fmt.Errorf("%w: connection reset", pipeline.ErrCompletionStream)
		defer func() {
			env.answers.deltas = []string{"Сайн", " ", "байна"}
			env.answers.err = nil
		}()

		resp := env.request(t, http.MethodPost, "/api/chat/stream", env.token,
			ChatRequest{SessionID: sess.ID.String(), Query: "Асуулт?"})
		events := testutil.ParseSSEEvents(t, readBody(t, resp))

		require.Len(t, testutil.FindAllEvents(events, "chunk"), 1)
		errEvent := testutil.FindEvent(events, "error")
		require.NotNil(t, errEvent)
		assert.Contains(t, errEvent.Data, "STREAM_ERROR")
		assert.Nil(t, testutil.FindEvent(events, "done"))
	})
}

func TestVoice(t *testing.T) {
	env := newTestEnv(t)
	env.answers.answer = `Хариулт: "25-р зүйл" дагуу болно.`

	resp := env.request(t, http.MethodPost, "/api/voice", env.token,
		ChatRequest{Query: "Хэдэн зүйл вэ?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	voice := decodeBody[VoiceResponse](t, resp)
	assert.Equal(t, "Хариулт хорин тав р зүйл дагуу болно.", voice.Text)
}

func TestRateLimit(t *testing.T) {
	users := newFakeUserStore()
	store := newFakeSessionStore()
	tokens := auth.NewManager(testSecret, time.Minute, time.Hour)
	service := auth.NewService(users, tokens, nil, true, log.NewNop())

	srv, err := NewServer(Config{
		Store:         store,
		Auth:          service,
		Pipeline:      &fakeAnswerer{answer: "За"},
		Logger:        log.NewNop(),
		RatePerSecond: 0.001,
		RateBurst:     1,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	user, err := users.CreateUser(context.Background(), "bat@example.mn", "Бат", nil, nil, nil)
	require.NoError(t, err)
	pair, err := tokens.IssuePair(user.ID)
	require.NoError(t, err)
	sess, err := store.CreateSession(context.Background(), user.ID, nil)
	require.NoError(t, err)

	env := &testEnv{server: ts}
	body := ChatRequest{SessionID: sess.ID.String(), Query: "Асуулт?"}

	resp := env.request(t, http.MethodPost, "/api/chat/stream", pair.AccessToken, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, http.MethodPost, "/api/chat/stream", pair.AccessToken, body)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
