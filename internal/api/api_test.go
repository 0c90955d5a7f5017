package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"praxis/internal/bookable"
	"praxis/internal/events"
	"praxis/internal/host"
	"praxis/internal/models"
	"praxis/internal/preload"
	"praxis/internal/search"
	"praxis/internal/slotsource"
	"praxis/internal/weekcache"
)

type mockPreloader struct {
	mock.Mock
}

func (m *mockPreloader) Start(ctx context.Context) *preload.Run {
	m.Called(ctx)
	return nil
}

func (m *mockPreloader) State() preload.State {
	return m.Called().Get(0).(preload.State)
}

type testEnv struct {
	server    *Server
	router    http.Handler
	beacon    *host.Beacon
	bus       *events.EventBus
	broker    *Broker
	preloader *mockPreloader
	failing   *atomic.Bool
	current   models.WeekKey
	baseCtx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	calc, err := bookable.NewCalculator(bookable.DefaultRules())
	require.NoError(t, err)
	loc := calc.Location()
	now := time.Date(2026, 10, 12, 7, 0, 0, 0, loc)
	clock := func() time.Time { return now }

	failing := &atomic.Bool{}
	source := slotsource.SourceFunc(func(_ context.Context, q slotsource.Query) ([]models.Slot, error) {
		if failing.Load() {
			return nil, slotsource.ErrUnavailable
		}
		start := q.Start.AddDate(0, 0, 1).Add(10 * time.Hour)
		return []models.Slot{{Start: start, End: start.Add(time.Duration(q.DurationMinutes) * time.Minute), DurationMinutes: q.DurationMinutes}}, nil
	})

	logger := zerolog.New(io.Discard)
	cache := weekcache.New(2*time.Minute, weekcache.WithClock(clock))
	engine := search.NewEngine(search.DefaultConfig(), source, cache, calc, &logger, search.WithClock(clock))
	beacon := host.NewBeacon(true)
	bus := events.NewEventBus()
	broker := NewBroker(bus, &logger)
	pre := new(mockPreloader)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ctx, engine, pre, beacon, broker, &logger)
	t.Cleanup(func() {
		srv.Close()
		broker.Close()
		cancel()
	})

	return &testEnv{
		server:    srv,
		router:    srv.Router(),
		beacon:    beacon,
		bus:       bus,
		broker:    broker,
		preloader: pre,
		failing:   failing,
		current:   models.WeekOf(now, loc),
		baseCtx:   ctx,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) openView(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/views", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp openViewResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) search.Result {
	t.Helper()
	var res search.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return res
}

func TestOpenViewAndAvailability(t *testing.T) {
	env := newTestEnv(t)
	id := env.openView(t)
	assert.Equal(t, 1, env.server.ViewCount())

	w := env.do(t, http.MethodGet, "/api/views/"+id+"/availability?week=2026-10-14&duration=50", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decodeResult(t, w)
	assert.Equal(t, env.current, res.AdvancedTo)
	require.Len(t, res.Days, 1)
	assert.Equal(t, "2026-10-13", res.Days[0].Date)
	assert.Equal(t, "2026-10-13", res.SelectedDay)
	assert.False(t, res.Exhausted)
}

func TestAvailability_Defaults(t *testing.T) {
	env := newTestEnv(t)
	id := env.openView(t)

	w := env.do(t, http.MethodGet, "/api/views/"+id+"/availability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult(t, w)
	assert.Equal(t, env.current, res.AdvancedTo)
	require.Len(t, res.Slots, 1)
	assert.Equal(t, 50, res.Slots[0].DurationMinutes)
}

func TestAvailability_BadInput(t *testing.T) {
	env := newTestEnv(t)
	id := env.openView(t)

	w := env.do(t, http.MethodGet, "/api/views/"+id+"/availability?week=next", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/views/"+id+"/availability?duration=-5", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/views/missing/availability", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAvailability_SourceFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	id := env.openView(t)
	env.failing.Store(true)

	w := env.do(t, http.MethodGet, "/api/views/"+id+"/availability", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body errResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Retryable)
	assert.NotEmpty(t, body.Error)
}

func TestNavigateSelectDayAndSearchForward(t *testing.T) {
	env := newTestEnv(t)
	id := env.openView(t)
	target := env.current.AddWeeks(3)

	w := env.do(t, http.MethodPost, "/api/views/"+id+"/navigate", weekRequest{Week: target.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, target, decodeResult(t, w).AdvancedTo)

	w = env.do(t, http.MethodPost, "/api/views/"+id+"/select-day", dayRequest{Date: "2026-11-05"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2026-11-05", decodeResult(t, w).SelectedDay)

	w = env.do(t, http.MethodPost, "/api/views/"+id+"/select-day", dayRequest{Date: "2026-10-12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/views/"+id+"/navigate", weekRequest{Week: "someday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/views/"+id+"/search-forward", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult(t, w)
	assert.Equal(t, target, res.AdvancedTo)
	assert.Len(t, res.Slots, 1)
}

func TestCloseView(t *testing.T) {
	env := newTestEnv(t)
	id := env.openView(t)

	w := env.do(t, http.MethodDelete, "/api/views/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, env.server.ViewCount())

	w = env.do(t, http.MethodDelete, "/api/views/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, "/api/views/"+id+"/search-forward", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreloadUsesServerContext(t *testing.T) {
	env := newTestEnv(t)
	env.preloader.On("Start", env.baseCtx).Once()
	env.preloader.On("State").Return(preload.StateWaitingForPaint)

	w := env.do(t, http.MethodPost, "/api/preload", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp preloadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "waiting_for_paint", resp.State)
	env.preloader.AssertExpectations(t)
}

func TestPaintBeacon(t *testing.T) {
	env := newTestEnv(t)
	paint, ok := env.beacon.FirstPaint()
	require.True(t, ok)

	w := env.do(t, http.MethodPost, "/api/signals/paint", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	select {
	case <-paint:
	default:
		t.Fatal("paint not marked")
	}
}

func TestNextAvailable(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/next-available", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp nextAvailableResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.NextAvailable)

	id := env.openView(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/views/"+id+"/availability", nil).Code)

	w = env.do(t, http.MethodGet, "/api/next-available", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.NextAvailable)
	assert.Equal(t, time.Tuesday, resp.NextAvailable.Start.In(env.server.engine.Location()).Weekday())
}

func TestEventsStreamAndIdleTracking(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.broker.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, env.beacon.InFlight(), "an open stream is not a busy request")

	env.bus.Publish(events.Event{
		Type:    events.TypeAvailabilityUpdated,
		Payload: events.WeekUpdated{Week: env.current, SlotCount: 3},
	})

	reader := bufio.NewReader(resp.Body)
	lines := readFrames(t, reader, 4)
	assert.Equal(t, "retry: 3000", lines[0])
	assert.Equal(t, "id: 1", lines[1])
	assert.Equal(t, "event: availability.updated", lines[2])
	assert.Contains(t, lines[3], `"slot_count":3`)
	assert.Contains(t, lines[3], env.current.String())
}

// readFrames returns the next n non-empty lines of an event stream.
func readFrames(t *testing.T, reader *bufio.Reader, n int) []string {
	t.Helper()
	var lines []string
	for len(lines) < n {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestEventsKeepAlive(t *testing.T) {
	logger := zerolog.New(io.Discard)
	b := NewBroker(events.NewEventBus(), &logger, WithKeepAlive(10*time.Millisecond))
	defer b.Close()
	ts := httptest.NewServer(b)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := readFrames(t, bufio.NewReader(resp.Body), 2)
	assert.Equal(t, ": keep-alive", lines[1])
}

func TestBrokerClose(t *testing.T) {
	bus := events.NewEventBus()
	logger := zerolog.New(io.Discard)
	b := NewBroker(bus, &logger)
	assert.Equal(t, 1, bus.SubscriberCount(events.TypeAvailabilityPreloaded))

	ch := b.Subscribe()
	b.Close()
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.ClientCount())
	assert.Zero(t, bus.SubscriberCount(events.TypeAvailabilityUpdated))
	b.Publish(events.Event{Type: events.TypeAvailabilityUpdated})
}

func TestWriteViewError(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	env.server.writeViewError(w, errors.New("boom"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
