package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	err error
}

func (f *fakeStore) Health() error { return f.err }

func TestHealthChecker(t *testing.T) {
	t.Run("存储正常", func(t *testing.T) {
		hc := NewHealthChecker(&fakeStore{}, "", nil)

		results, ok := hc.CheckHealth()
		assert.True(t, ok)
		assert.Equal(t, "OK", results["store"])

		w := httptest.NewRecorder()
		hc.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("存储异常时未就绪但仍存活", func(t *testing.T) {
		hc := NewHealthChecker(&fakeStore{err: errors.New("down")}, "", nil)

		results, ok := hc.CheckHealth()
		assert.False(t, ok)
		assert.Contains(t, results["store"], "down")

		w := httptest.NewRecorder()
		hc.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = httptest.NewRecorder()
		hc.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
