package monitor_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chargekeep/chargekeep/evapi"
	"github.com/chargekeep/chargekeep/monitor"
)

type apiConfig struct {
	chargerIDs []int
}

func (c apiConfig) GetAPIBaseURL() string { return "" }
func (c apiConfig) GetDeviceID() string { return "device-1" }
func (c apiConfig) GetLatitude() float64 { return 0 }
func (c apiConfig) GetLongitude() float64 { return 0 }
func (c apiConfig) GetChargerIDs() []int { return c.chargerIDs }

type statusReaderFake struct {
	mu      sync.Mutex
	sockets []evapi.Socket
}

func (f *statusReaderFake) SocketStatus(ctx context.Context, cuprIDs []int) ([]evapi.Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]evapi.Socket(nil), f.sockets...), nil
}

func (f *statusReaderFake) set(sockets []evapi.Socket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sockets = sockets
}

type notifierFake struct {
	mu       sync.Mutex
	messages []string
}

func (f *notifierFake) Notify(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *notifierFake) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func socket(id int, status string) evapi.Socket {
	return evapi.Socket{
		CuprID:           6103,
		CuprName:         "IKEA Jerez 001",
		PhysicalSocketID: id,
		SocketCode:       "1",
		Status:           status,
	}
}

func newMonitor(t *testing.T) (*monitor.Monitor, *statusReaderFake, *notifierFake) {
	t.Helper()
	store, err := monitor.OpenStore(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	api := &statusReaderFake{}
	notifier := &notifierFake{}
	m := monitor.NewMonitor(apiConfig{chargerIDs: []int{6103}}, time.Minute, api, store, notifier, zerolog.Nop())
	return m, api, notifier
}

func TestFirstObservationIsBaseline(t *testing.T) {
	m, api, notifier := newMonitor(t)
	api.set([]evapi.Socket{socket(11, "AVAILABLE")})

	changes, err := m.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, changes, "the first sighting establishes state, not a transition")
	require.Empty(t, notifier.all())
}

func TestTransitionIsDetectedAndNotified(t *testing.T) {
	m, api, notifier := newMonitor(t)
	api.set([]evapi.Socket{socket(11, "AVAILABLE")})
	_, err := m.CheckOnce(context.Background())
	require.NoError(t, err)

	api.set([]evapi.Socket{socket(11, "OCCUPIED")})
	changes, err := m.CheckOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, changes, 1)
	require.Equal(t, "AVAILABLE", changes[0].From)
	require.Equal(t, "OCCUPIED", changes[0].To)

	messages := notifier.all()
	require.Len(t, messages, 1)
	require.Contains(t, messages[0], "IKEA Jerez 001")
	require.Contains(t, messages[0], "AVAILABLE")
	require.Contains(t, messages[0], "OCCUPIED")
}

func TestUnchangedStatusStaysQuiet(t *testing.T) {
	m, api, notifier := newMonitor(t)
	api.set([]evapi.Socket{socket(11, "AVAILABLE"), socket(12, "OCCUPIED")})
	_, err := m.CheckOnce(context.Background())
	require.NoError(t, err)

	changes, err := m.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, changes)
	require.Empty(t, notifier.all())
}

func TestOnlyChangedSocketsNotify(t *testing.T) {
	m, api, notifier := newMonitor(t)
	api.set([]evapi.Socket{socket(11, "AVAILABLE"), socket(12, "OCCUPIED")})
	_, err := m.CheckOnce(context.Background())
	require.NoError(t, err)

	api.set([]evapi.Socket{socket(11, "AVAILABLE"), socket(12, "AVAILABLE")})
	changes, err := m.CheckOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, changes, 1)
	require.Equal(t, 12, changes[0].Socket.PhysicalSocketID)
	require.Len(t, notifier.all(), 1)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.db")

	store, err := monitor.OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveSockets(context.Background(),
		[]evapi.Socket{socket(11, "AVAILABLE")}, time.Now()))
	require.NoError(t, store.Close())

	reopened, err := monitor.OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	statuses, err := reopened.LastStatuses(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[int]string{11: "AVAILABLE"}, statuses)
}
