package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"itdesk/internal/diagram"
	"itdesk/internal/errs"
	"itdesk/internal/middleware"
	"itdesk/internal/models"
	"itdesk/internal/server"
	"itdesk/internal/services"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeAPI issues a fixed token and checks the double-submit pair on POSTs.
type fakeAPI struct {
	csrfFetches atomic.Int32
	rejectNext  atomic.Bool
	token       string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/csrf", func(w http.ResponseWriter, r *http.Request) {
		n := f.csrfFetches.Add(1)
		f.token = "tok-" + string(rune('0'+n))
		http.SetCookie(w, &http.Cookie{Name: services.CSRFCookieName, Value: f.token, Path: "/"})
		json.NewEncoder(w).Encode(models.CSRFTokenResponse{CSRFToken: f.token})
	})
	mux.HandleFunc("GET /api/infra", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(csrfHeader))
		json.NewEncoder(w).Encode([]*models.Diagram{{ID: "d1", Data: "[]"}})
	})
	mux.HandleFunc("POST /api/infra", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(services.CSRFCookieName)
		if f.rejectNext.Swap(false) || err != nil || c.Value != r.Header.Get(csrfHeader) {
			http.Error(w, `{"error":"invalid csrf token"}`, http.StatusForbidden)
			return
		}
		var req models.SaveDiagramRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(models.Diagram{ID: "d1", Name: req.Name, Data: req.Data})
	})
	mux.HandleFunc("DELETE /api/infra/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
	})
	return mux
}

func TestClient_FetchesCSRFLazilyOnce(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.List(ctx)
	require.NoError(t, err)
	require.Zero(t, api.csrfFetches.Load(), "reads need no token")

	for i := 0; i < 3; i++ {
		_, err = c.Save(ctx, &models.SaveDiagramRequest{Name: "n", Data: "[]"})
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, api.csrfFetches.Load())
}

func TestClient_RejectedTokenIsRefetched(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	api.rejectNext.Store(true)
	_, err = c.Save(ctx, &models.SaveDiagramRequest{Name: "n", Data: "[]"})
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = c.Save(ctx, &models.SaveDiagramRequest{Name: "n", Data: "[]"})
	require.NoError(t, err, "no automatic retry, but the next call uses a fresh token")
	require.EqualValues(t, 2, api.csrfFetches.Load())
}

func TestClient_ErrorMapping(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	err = c.Delete(context.Background(), "d1")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "too many requests", apiErr.Message)

	_, err = c.Reveal(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestClient_CSRFFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Save(context.Background(), &models.SaveDiagramRequest{Name: "n", Data: "[]"})
	require.ErrorContains(t, err, "failed to fetch csrf token")
}

type memStore struct {
	mu    sync.Mutex
	items []*models.Diagram
}

func (m *memStore) List(context.Context) ([]*models.Diagram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Diagram(nil), m.items...), nil
}

func (m *memStore) Save(_ context.Context, req *models.SaveDiagramRequest) (*models.Diagram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID != nil {
		for _, d := range m.items {
			if d.ID == *req.ID {
				d.Name, d.Data, d.UpdatedAt = req.Name, req.Data, time.Now()
				return d, nil
			}
		}
	}
	d := &models.Diagram{ID: "diagram-1", Name: req.Name, Data: req.Data, UpdatedAt: time.Now()}
	m.items = append(m.items, d)
	return d, nil
}

func (m *memStore) Delete(context.Context, string) error { return nil }

func TestClient_EditorAgainstServer(t *testing.T) {
	log := zaptest.NewLogger(t)
	const secret = "s"
	store := &memStore{}

	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Log: log,
		Limiter: services.NewRateLimiter(nil, map[models.RouteClass]int{
			models.RouteClassAuth: 5, models.RouteClassAPI: 60,
		}, time.Minute, log, nil),
		CSRF:     services.NewCSRFGuard(false),
		Session:  middleware.NewSessionAuth(secret, "", log),
		Alerts:   &nopSink{},
		Diagrams: store,
	}))
	defer srv.Close()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "exp": time.Now().Add(time.Hour).Unix(),
		"user_metadata": map[string]any{"role": "TI"},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := c.Login(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, models.RoleTI, id.Role)

	ed, err := diagram.Open(ctx, c, log)
	require.NoError(t, err)
	ed.Canvas().Add(diagram.KindServer)
	ed.Canvas().Add(diagram.KindDatabase)
	_, err = ed.Save(ctx)
	require.NoError(t, err)

	reopened, err := diagram.Open(ctx, c, log)
	require.NoError(t, err)
	require.Equal(t, "diagram-1", reopened.ID())
	require.Len(t, reopened.Canvas().Nodes(), 2)
	require.Len(t, reopened.Canvas().Connections(), 1)

	require.NoError(t, c.Logout(ctx))
	_, err = c.List(ctx)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

type nopSink struct{}

func (nopSink) Record(string, models.Severity, map[string]any) {}
