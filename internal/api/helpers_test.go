package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-listsync/internal/auth"
	"github.com/npezzotti/go-listsync/internal/chat"
	"github.com/npezzotti/go-listsync/internal/config"
	"github.com/npezzotti/go-listsync/internal/database"
	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/npezzotti/go-listsync/internal/stats"
	"github.com/npezzotti/go-listsync/internal/types"
	"github.com/npezzotti/go-listsync/internal/votes"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3000"

type testEnv struct {
	app  *App
	repo *database.MemoryChatRepository
	hub  *server.Hub
	jwt  *auth.JWT
}

func participant(id int, name string) types.Participant {
	return types.Participant{User: types.User{Id: id, Username: name}, Role: types.RoleEditor}
}

// newTestEnv wires an App over a memory repository where list 7 (item 42)
// has users 1 and 2 and list 9 (item 90) has user 3 only.
func newTestEnv(t *testing.T, logger zerolog.Logger, opts ...Option) *testEnv {
	repo := database.NewMemoryChatRepository()
	repo.AddList(types.List{Id: 7, Name: "Groceries", ActivateVoting: true}, participant(1, "alice"), participant(2, "bob"))
	repo.AddItem(types.Item{Id: 42, ListId: 7, Name: "Milk"})
	repo.AddList(types.List{Id: 9, Name: "Hardware"}, participant(3, "carol"))
	repo.AddItem(types.Item{Id: 90, ListId: 9, Name: "Nails"})

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()

	hub := server.NewHub(logger, repo, su)
	jwt := auth.NewJWT([]byte("test-signing-key"))
	cfg := &config.Config{AllowedOrigins: []string{testOrigin}}

	app := NewApp(http.NewServeMux(), logger, repo, hub,
		chat.NewController(logger, repo, hub), chat.NewCounter(repo), votes.NewTally(repo, hub),
		jwt, cfg, opts...)

	return &testEnv{app: app, repo: repo, hub: hub, jwt: jwt}
}

func (e *testEnv) token(t *testing.T, userId int) string {
	t.Helper()
	tok, err := e.jwt.Issue(userId, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request through the full handler chain. A zero userId sends
// no credentials.
func (e *testEnv) do(t *testing.T, method, path string, userId int, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	buf := &bytes.Buffer{}
	if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, buf)
	if userId != 0 {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userId))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rr := httptest.NewRecorder()
	e.app.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	keys   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}, keys: map[string]bool{}}
}

func (f *fakeStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeStore) PutNX(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}
