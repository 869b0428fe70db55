package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/autopost/internal/api/middleware"
	"github.com/kiranshivaraju/autopost/internal/cache"
	"github.com/kiranshivaraju/autopost/pkg/models"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("backend down")

type targetSet map[string]bool

func (s targetSet) Supports(target string) bool { return s[target] }

// memCache is an in-process cache.Cache.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	pingErr error
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Ping(context.Context) error { return c.pingErr }

func (c *memCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status models.Status, ttl time.Duration) error {
	return c.Set(ctx, cache.JobStatusKey(jobID), []byte(status), ttl)
}

func (c *memCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.Status, bool, error) {
	v, ok, err := c.Get(ctx, cache.JobStatusKey(jobID))
	return models.Status(v), ok, err
}

func (c *memCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

var _ cache.Cache = (*memCache)(nil)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// serve routes a single request through a chi router so URL params resolve.
func serve(t *testing.T, method, pattern, path string, h http.HandlerFunc, owner uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != uuid.Nil {
		req = req.WithContext(mw.SetOwnerID(req.Context(), owner))
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func pendingJob(owner uuid.UUID, targets ...string) *models.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Job{
		ID:          uuid.New(),
		OwnerID:     owner,
		ArtifactRef: "https://cdn.example.com/v.mp4",
		Caption:     "hello",
		Targets:     targets,
		DueAt:       now.Add(time.Hour),
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
