package embed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/framelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/framelink/internal/protocol"
)

func testResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *monitoring.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultResolverConfig()
	cfg.Endpoint = srv.URL + "/oembed.json"
	cfg.Retries = 0
	cfg.RetryWait = time.Millisecond
	cfg.RPS = 0

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	return NewResolver(cfg, nil, metrics), metrics
}

func TestResolveFetchesDescriptor(t *testing.T) {
	var query, agent string
	r, metrics := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		query = req.URL.RawQuery
		agent = req.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"rich","version":"1.0","title":"Loft","width":640,"height":360,"html":"<iframe src=\"https://display.nfinite.app/v1/x\"></iframe>"}`))
	})

	p := NewPlaceholder(Params{"id": displayID, "autoplay": "1"})
	desc, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, "rich", desc.Type)
	assert.Equal(t, "Loft", desc.Title)
	assert.Equal(t, 640, desc.Width)
	assert.Contains(t, desc.HTML, "<iframe")
	assert.Equal(t, "https://display.nfinite.app/v1/"+displayID, desc.URL)

	assert.Contains(t, query, "autoplay=1")
	assert.Contains(t, query, "url=https%3A%2F%2Fdisplay.nfinite.app%2Fv1%2F"+displayID)
	assert.NotContains(t, query, "id=")
	assert.Equal(t, "framelink/1.0", agent)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DescriptorFetch.WithLabelValues("ok")))
}

func TestResolveStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		kind     protocol.TransportKind
		sentinel error
		message  string
	}{
		{http.StatusNotFound, protocol.NotFound, protocol.ErrNotFound, "was not found"},
		{http.StatusForbidden, protocol.NotEmbeddable, protocol.ErrNotEmbeddable, "is not embeddable"},
		{http.StatusTeapot, protocol.Network, nil, "error fetching the embed code"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			r, _ := testResolver(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := r.Resolve(context.Background(), NewPlaceholder(Params{"id": displayID}))

			var terr *protocol.TransportError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tt.kind, terr.Kind)
			assert.Equal(t, tt.status, terr.Status)
			assert.Contains(t, err.Error(), tt.message)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestResolveRejectsNonJSON(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>maintenance</body></html>"))
	})

	_, err := r.Resolve(context.Background(), NewPlaceholder(Params{"id": displayID}))

	var terr *protocol.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, protocol.Network, terr.Kind)
}

func TestResolveRequiresHTML(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"rich","version":"1.0"}`))
	})

	_, err := r.Resolve(context.Background(), NewPlaceholder(Params{"id": displayID}))
	assert.ErrorContains(t, err, "no html")
}

func TestResolveValidatesBeforeFetching(t *testing.T) {
	var hits atomic.Int32
	r, _ := testResolver(t, func(http.ResponseWriter, *http.Request) { hits.Add(1) })

	_, err := r.Resolve(context.Background(), NewPlaceholder(Params{"url": "https://evil.example.com"}))

	var verr *protocol.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Zero(t, hits.Load())
}

func TestResolveNotFoundDoesNotTripBreaker(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 8; i++ {
		_, err := r.Resolve(context.Background(), NewPlaceholder(Params{"id": displayID}))
		require.ErrorIs(t, err, protocol.ErrNotFound)
	}
	assert.Equal(t, resilience.StateClosed, r.Breaker().State())
}

func TestResolveBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	r, metrics := testResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 5; i++ {
		_, err := r.Resolve(context.Background(), NewPlaceholder(Params{"id": displayID}))
		require.Error(t, err)
	}
	require.Equal(t, resilience.StateOpen, r.Breaker().State())

	_, err := r.Resolve(context.Background(), NewPlaceholder(Params{"id": displayID}))

	var terr *protocol.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, protocol.Network, terr.Kind)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.EqualValues(t, 5, hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DescriptorFetch.WithLabelValues("circuit_open")))
}

func TestResolveHonoursContext(t *testing.T) {
	release := make(chan struct{})
	r, _ := testResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, NewPlaceholder(Params{"id": displayID}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
