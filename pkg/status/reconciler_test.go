package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/devloop/pkg/engine"
)

type stubBackend struct {
	obs engine.Observation
	err error
}

func (s *stubBackend) Start(ctx context.Context, spec engine.ServiceSpec) (engine.Handle, error) {
	return engine.Handle{}, nil
}
func (s *stubBackend) Stop(ctx context.Context, name string) error { return nil }
func (s *stubBackend) QueryStatus(ctx context.Context, name string) (engine.Observation, error) {
	return s.obs, s.err
}

type memMarkers struct {
	mu      sync.Mutex
	markers map[string]engine.Marker
}

func newMemMarkers() *memMarkers { return &memMarkers{markers: map[string]engine.Marker{}} }

func (m *memMarkers) Record(name string, marker engine.Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[name] = marker
	return nil
}

func (m *memMarkers) Clear(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, name)
	return nil
}

func (m *memMarkers) Get(name string) (engine.Marker, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.markers[name]
	return marker, ok, nil
}

func newTestReconciler(obs engine.Observation, markers engine.MarkerStore, alive bool) *Reconciler {
	r := NewReconciler(
		map[engine.Kind]engine.Backend{engine.KindNative: &stubBackend{obs: obs}},
		markers,
		func(int) bool { return alive },
	)
	return r
}

func nativeSpec(hc engine.Healthcheck) engine.ServiceSpec {
	return engine.ServiceSpec{
		Name:        "api",
		Kind:        engine.KindNative,
		Command:     []string{"true"},
		Healthcheck: hc,
	}
}

func TestReport_NumericHealthcheckPendingThenUp(t *testing.T) {
	started := time.Now().Add(-8 * time.Second)
	obs := engine.Observation{Present: true, Running: true, PID: 10, StartedAt: started}
	r := newTestReconciler(obs, newMemMarkers(), true)
	spec := nativeSpec(engine.Healthcheck{Seconds: 10})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StatePending, rep.State)

	r.Now = func() time.Time { return started.Add(15 * time.Second) }
	rep = r.Report(context.Background(), spec, "")
	require.Equal(t, StateUp, rep.State)
}

func TestReport_URLHealthcheckUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	obs := engine.Observation{Present: true, Running: true, PID: 10, StartedAt: time.Now()}
	r := newTestReconciler(obs, newMemMarkers(), true)
	spec := nativeSpec(engine.Healthcheck{URL: srv.URL})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StateUp, rep.State)
}

func TestReport_URLHealthcheckNon2xxIsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	obs := engine.Observation{Present: true, Running: true, PID: 10, StartedAt: time.Now()}
	r := newTestReconciler(obs, newMemMarkers(), true)
	spec := nativeSpec(engine.Healthcheck{URL: srv.URL})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StatePending, rep.State)
}

func TestReport_URLHealthcheckRefusedIsPending(t *testing.T) {
	// Nothing listens on this port; the probe fails but the process is
	// alive, so the service is not ready yet rather than down.
	obs := engine.Observation{Present: true, Running: true, PID: 10, StartedAt: time.Now()}
	r := newTestReconciler(obs, newMemMarkers(), true)
	r.ProbeTimeout = 200 * time.Millisecond
	spec := nativeSpec(engine.Healthcheck{URL: "http://127.0.0.1:1/healthz"})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StatePending, rep.State)
}

func TestReport_NotPresentIsDown(t *testing.T) {
	r := newTestReconciler(engine.Observation{}, newMemMarkers(), true)
	spec := nativeSpec(engine.Healthcheck{Seconds: 10})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StateDown, rep.State)
}

func TestReport_LiveMarkerBridgesGap(t *testing.T) {
	markers := newMemMarkers()
	require.NoError(t, markers.Record("api", engine.Marker{PID: 55, RequestedAt: time.Now()}))
	r := newTestReconciler(engine.Observation{}, markers, true)
	spec := nativeSpec(engine.Healthcheck{Seconds: 10})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StatePending, rep.State)
}

func TestReport_DeadMarkerClearedAndDown(t *testing.T) {
	markers := newMemMarkers()
	require.NoError(t, markers.Record("api", engine.Marker{PID: 55, RequestedAt: time.Now()}))
	r := newTestReconciler(engine.Observation{}, markers, false)
	spec := nativeSpec(engine.Healthcheck{Seconds: 10})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StateDown, rep.State)

	_, ok, err := markers.Get("api")
	require.NoError(t, err)
	require.False(t, ok, "dead marker cleared as side effect")
}

func TestReport_RunningClearsMarker(t *testing.T) {
	markers := newMemMarkers()
	require.NoError(t, markers.Record("api", engine.Marker{ContainerID: "cid"}))
	obs := engine.Observation{Present: true, Running: true, PID: 10, StartedAt: time.Now().Add(-time.Minute)}
	r := newTestReconciler(obs, markers, true)
	spec := nativeSpec(engine.Healthcheck{Seconds: 10})

	rep := r.Report(context.Background(), spec, "")
	require.Equal(t, StateUp, rep.State)

	_, ok, err := markers.Get("api")
	require.NoError(t, err)
	require.False(t, ok, "marker satisfied once backend shows the service")
}

func TestReport_EnabledFollowsProfiles(t *testing.T) {
	r := newTestReconciler(engine.Observation{}, newMemMarkers(), true)
	spec := nativeSpec(engine.Healthcheck{Seconds: 10})
	spec.Profiles = []string{"full"}

	rep := r.Report(context.Background(), spec, "frontend")
	require.False(t, rep.Enabled)
	require.Equal(t, StateDown, rep.State, "disabled services are reported, not hidden")

	rep = r.Report(context.Background(), spec, "full")
	require.True(t, rep.Enabled)
}

func TestReport_RepeatedCallsIdempotent(t *testing.T) {
	markers := newMemMarkers()
	require.NoError(t, markers.Record("api", engine.Marker{PID: 55}))
	r := newTestReconciler(engine.Observation{}, markers, false)
	spec := nativeSpec(engine.Healthcheck{Seconds: 10})

	for i := 0; i < 3; i++ {
		rep := r.Report(context.Background(), spec, "")
		require.Equal(t, StateDown, rep.State)
	}
}

func TestIsUp_PendingCountsAsUp(t *testing.T) {
	obs := engine.Observation{Present: true, Running: true, PID: 10, StartedAt: time.Now()}
	r := newTestReconciler(obs, newMemMarkers(), true)
	spec := nativeSpec(engine.Healthcheck{Seconds: 60})

	up, err := r.IsUp(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, up, "a starting service needs no second start")
}
