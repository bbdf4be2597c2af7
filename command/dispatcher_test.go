package command

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-monitor/common"
	"aura-monitor/metrics"
)

type countingRepoller struct {
	calls atomic.Int32
}

func (r *countingRepoller) PollNow() { r.calls.Add(1) }

type recordedRequest struct {
	Path string
	Body map[string]int
	Auth string
}

// newBackend поднимает фейковый бэкенд, записывающий команды
func newBackend(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, recordedRequest{Path: r.URL.Path, Body: body, Auth: r.Header.Get("Authorization")})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), got...)
	}
}

func testConfig(baseURL string) Config {
	config := DefaultConfig()
	config.BaseURL = baseURL
	config.ConfirmDelay = 10 * time.Millisecond
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 500*time.Millisecond, config.ConfirmDelay)
	assert.Equal(t, 16, config.QueueSize)
	assert.Equal(t, 1, config.Workers)
}

func TestToggleImmobilizerSendsOppositeState(t *testing.T) {
	tests := []struct {
		name        string
		immobilized bool
		wantState   int
	}{
		{name: "engage when released", immobilized: false, wantState: 1},
		{name: "release when engaged", immobilized: true, wantState: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newBackend(t, http.StatusOK)
			repoll := &countingRepoller{}
			d := NewDispatcher(testConfig(srv.URL), repoll, nil)
			require.NoError(t, d.Start())
			defer d.Stop()

			snap := common.Snapshot{Immobilized: tt.immobilized}
			require.NoError(t, d.ToggleImmobilizer(snap))

			require.Eventually(t, func() bool { return repoll.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
			got := requests()
			require.Len(t, got, 1)
			assert.Equal(t, "/api/immobilizer", got[0].Path)
			assert.Equal(t, map[string]int{"state": tt.wantState}, got[0].Body)

			// Снимок не изменяется оптимистично
			assert.Equal(t, tt.immobilized, snap.Immobilized)
		})
	}
}

func TestRepollAfterFailure(t *testing.T) {
	srv, requests := newBackend(t, http.StatusInternalServerError)
	repoll := &countingRepoller{}
	reg := prometheus.NewRegistry()
	d := NewDispatcher(testConfig(srv.URL), repoll, metrics.New(reg))
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.ToggleImmobilizer(common.Snapshot{}))
	require.Eventually(t, func() bool { return repoll.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, requests(), 1)
}

func TestRepollAfterTransportError(t *testing.T) {
	repoll := &countingRepoller{}
	d := NewDispatcher(testConfig("http://127.0.0.1:1"), repoll, nil)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.ToggleImmobilizer(common.Snapshot{Immobilized: true}))
	require.Eventually(t, func() bool { return repoll.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestSetFrequency(t *testing.T) {
	srv, requests := newBackend(t, http.StatusOK)
	config := testConfig(srv.URL)
	config.Token = "secret"
	repoll := &countingRepoller{}
	d := NewDispatcher(config, repoll, nil)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.SetFrequency(30))
	require.Eventually(t, func() bool { return len(requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	got := requests()[0]
	assert.Equal(t, "/api/frequency", got.Path)
	assert.Equal(t, map[string]int{"frequency": 30}, got.Body)
	assert.Equal(t, "Bearer secret", got.Auth)
}

func TestSetFrequencyDoesNotRepoll(t *testing.T) {
	srv, requests := newBackend(t, http.StatusOK)
	repoll := &countingRepoller{}
	d := NewDispatcher(testConfig(srv.URL), repoll, nil)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.SetFrequency(30))
	require.Eventually(t, func() bool { return len(requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Задержка подтверждения 10 мс, ждём заметно дольше
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), repoll.calls.Load())
}

func TestSetFrequencyRejectsInvalid(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), nil, nil)

	for _, v := range []int{0, -5} {
		err := d.SetFrequency(v)
		assert.True(t, errors.Is(err, ErrInvalidFrequency), "value %d", v)
	}
	assert.Len(t, d.tasks, 0)
}

func TestMultipleOutstandingCommands(t *testing.T) {
	srv, requests := newBackend(t, http.StatusOK)
	repoll := &countingRepoller{}
	config := testConfig(srv.URL)
	config.Workers = 2
	d := NewDispatcher(config, repoll, nil)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NoError(t, d.ToggleImmobilizer(common.Snapshot{}))
	require.NoError(t, d.ToggleImmobilizer(common.Snapshot{}))
	require.NoError(t, d.SetFrequency(5))

	require.Eventually(t, func() bool { return len(requests()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return repoll.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), repoll.calls.Load())
}

func TestQueueFull(t *testing.T) {
	config := DefaultConfig()
	config.QueueSize = 1
	d := NewDispatcher(config, nil, nil)

	// Без Start очередь никто не разбирает
	require.NoError(t, d.SetFrequency(1))
	assert.ErrorIs(t, d.SetFrequency(2), ErrQueueFull)
}

func TestStopCancelsPendingRepoll(t *testing.T) {
	srv, requests := newBackend(t, http.StatusOK)
	config := testConfig(srv.URL)
	config.ConfirmDelay = 200 * time.Millisecond
	repoll := &countingRepoller{}
	d := NewDispatcher(config, repoll, nil)
	require.NoError(t, d.Start())

	require.NoError(t, d.ToggleImmobilizer(common.Snapshot{}))
	require.Eventually(t, func() bool { return len(requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), repoll.calls.Load())
}

func TestStoppedDispatcher(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), nil, nil)
	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())

	assert.ErrorIs(t, d.ToggleImmobilizer(common.Snapshot{}), ErrStopped)
	assert.ErrorIs(t, d.Start(), ErrStopped)
}
