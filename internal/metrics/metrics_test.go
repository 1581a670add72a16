package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"multiposter/internal/content"
	"multiposter/internal/dispatch"
	"multiposter/internal/eventbus"
)

func TestObservePublish(t *testing.T) {
	t.Parallel()

	c := New("test")
	ctx := context.Background()
	c.ObservePublish(ctx, dispatch.Outcome{Kind: content.KindText, OK: true, Took: time.Second})
	c.ObservePublish(ctx, dispatch.Outcome{Kind: content.KindText, FailureKind: "rejected"})
	c.ObservePublish(ctx, dispatch.Outcome{Kind: content.KindVideo})

	require.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("text", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("text", "rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("video", "error")))
}

func TestObserveValidation(t *testing.T) {
	t.Parallel()

	c := New("test")
	c.ObserveValidation(true)
	c.ObserveValidation(false)
	c.ObserveValidation(false)
	require.Equal(t, 1.0, testutil.ToFloat64(c.validations.WithLabelValues("valid")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.validations.WithLabelValues("invalid")))
}

func TestFollowTracksState(t *testing.T) {
	t.Parallel()

	c := New("test")
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Follow(ctx, bus, func() int { return 3 })
	}()

	// Subscription happens inside Follow; retry until it is observed.
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: dispatch.EventStateChanged, Data: dispatch.StateChange{From: dispatch.Starting, To: dispatch.Running, Kind: content.KindText}})
		return testutil.ToFloat64(c.runState.WithLabelValues("running")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 0.0, testutil.ToFloat64(c.runState.WithLabelValues("idle")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.credentials))
	cancel()
	<-done
}

func TestHandlerAndMiddleware(t *testing.T) {
	t.Parallel()

	c := New("v1")
	h := c.Middleware("/teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot", nil))
	require.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/teapot", "418")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.True(t, strings.Contains(string(body), `multiposter_build_info{version="v1"} 1`))
}
