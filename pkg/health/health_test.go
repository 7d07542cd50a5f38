package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestOverall(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("down") })

	t.Run("all healthy", func(t *testing.T) {
		c := NewChecker("test")
		c.Register("database", ok, true)
		c.Register("redis", ok, false)
		assert.Equal(t, StatusHealthy, Overall(c.Run(context.Background())))
	})

	t.Run("optional dependency down degrades", func(t *testing.T) {
		c := NewChecker("test")
		c.Register("database", ok, true)
		c.Register("redis", down, false)
		checks := c.Run(context.Background())
		assert.Equal(t, StatusDegraded, checks["redis"].Status)
		assert.Equal(t, StatusDegraded, Overall(checks))
	})

	t.Run("required dependency down is unhealthy", func(t *testing.T) {
		c := NewChecker("test")
		c.Register("database", down, true)
		c.Register("redis", down, false)
		assert.Equal(t, StatusUnhealthy, Overall(c.Run(context.Background())))
	})
}

func TestReadinessBeforeStartup(t *testing.T) {
	e := echo.New()
	c := NewChecker("test")
	c.RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
