package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRegistryCheck(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	r.Register("sql", PingChecker(pingFunc(func(context.Context) error { return nil })))
	r.Register("mongo", func(context.Context) error { return errors.New("no primary") })
	r.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	report := r.Check(context.Background())
	assert.False(t, report.Healthy())
	assert.Equal(t, "UP", report.Components["sql"])
	assert.Equal(t, "DOWN: no primary", report.Components["mongo"])
	assert.Contains(t, report.Components["slow"], "deadline exceeded")
}

func TestNilDependencies(t *testing.T) {
	assert.Error(t, PingChecker(nil)(context.Background()))
	assert.Error(t, RedisChecker(nil)(context.Background()))
	assert.Error(t, MongoChecker(nil)(context.Background()))
	assert.Error(t, KafkaChecker(nil, nil)(context.Background()))
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRegistry(time.Second)
	r.Register("ok", func(context.Context) error { return nil })

	engine := gin.New()
	engine.GET("/readyz", r.Handler())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var report Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Healthy())

	r.Register("broken", func(context.Context) error { return errors.New("down") })
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
