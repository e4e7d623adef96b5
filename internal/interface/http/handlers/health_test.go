package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCompositeHealthChecker(t *testing.T) {
	ok := NewPingCheck(pingFunc(func(context.Context) error { return nil }))
	down := NewPingCheck(pingFunc(func(context.Context) error { return errors.New("connection refused") }))

	t.Run("no checks", func(t *testing.T) {
		st := NewCompositeHealthChecker("v1").Check(context.Background())
		assert.True(t, st.Healthy)
		assert.Equal(t, "v1", st.Version)
	})

	t.Run("all pass", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("ledger", ok)
		c.AddOptionalCheck("redis", ok)

		st := c.Check(context.Background())
		assert.True(t, st.Healthy)
		assert.Equal(t, "All checks passed", st.Message)
		assert.Len(t, st.Checks, 2)
	})

	t.Run("optional failure degrades", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("ledger", ok)
		c.AddOptionalCheck("redis", down)

		st := c.Check(context.Background())
		assert.True(t, st.Healthy)
		assert.Equal(t, "Degraded: redis", st.Message)
		assert.False(t, st.Checks["redis"].Healthy)
		assert.Equal(t, "connection refused", st.Checks["redis"].Message)
	})

	t.Run("required failure", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("ledger", down)
		c.AddOptionalCheck("redis", ok)

		st := c.Check(context.Background())
		assert.False(t, st.Healthy)
		assert.Equal(t, "Some checks failed: ledger", st.Message)
	})

	t.Run("removed check is not run", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("ledger", down)
		c.RemoveCheck("ledger")
		assert.True(t, c.Check(context.Background()).Healthy)
	})

	t.Run("timeout", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.SetTimeout(10 * time.Millisecond)
		c.AddCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		st := c.Check(context.Background())
		assert.False(t, st.Healthy)
		assert.Contains(t, st.Checks["slow"].Message, "deadline exceeded")
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := ChainHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mark("a"), mark("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestRequestSizeLimitMiddleware(t *testing.T) {
	h := RequestSizeLimitMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("much too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "payload_too_large")
}
