// Package monitor watches the configured charge points and notifies when a
// connector changes status. The last observed state lives in SQLite so a
// restart does not replay old transitions.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/chargekeep/chargekeep/evapi"
	"github.com/chargekeep/chargekeep/internal/config"
	"github.com/chargekeep/chargekeep/notify"
)

// StatusReader is the slice of the resource API the monitor polls.
type StatusReader interface {
	SocketStatus(ctx context.Context, cuprIDs []int) ([]evapi.Socket, error)
}

// Change is one observed connector transition.
type Change struct {
	Socket evapi.Socket
	From   string
	To     string
}

// Monitor polls socket status on a fixed interval and reports transitions.
type Monitor struct {
	cfg      config.APIConfig
	interval time.Duration
	api      StatusReader
	store    *Store
	notifier notify.Notifier
	logger   zerolog.Logger
	nowTime  func() time.Time
}

func NewMonitor(cfg config.APIConfig, interval time.Duration, api StatusReader, store *Store, notifier notify.Notifier, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		interval: interval,
		api:      api,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "monitor").Logger(),
		nowTime:  time.Now,
	}
}

// Run polls until the context is cancelled. Individual poll failures are
// logged and the loop keeps going.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if _, err := m.CheckOnce(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("initial status check failed")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.CheckOnce(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("status check failed")
			}
		}
	}
}

// CheckOnce fetches the current socket states, diffs them against the stored
// ones, persists the new picture and notifies one message per transition.
func (m *Monitor) CheckOnce(ctx context.Context) ([]Change, error) {
	chargerIDs := m.cfg.GetChargerIDs()
	if len(chargerIDs) == 0 {
		return nil, nil
	}

	sockets, err := m.api.SocketStatus(ctx, chargerIDs)
	if err != nil {
		return nil, errors.Wrap(err, "[Monitor.CheckOnce]")
	}

	previous, err := m.store.LastStatuses(ctx)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, sock := range sockets {
		before, known := previous[sock.PhysicalSocketID]
		// A socket seen for the first time establishes a baseline, it is not
		// a transition.
		if known && before != sock.Status {
			changes = append(changes, Change{Socket: sock, From: before, To: sock.Status})
		}
	}

	if err := m.store.SaveSockets(ctx, sockets, m.nowTime()); err != nil {
		return nil, err
	}

	for _, change := range changes {
		m.logger.Info().
			Int("socket_id", change.Socket.PhysicalSocketID).
			Str("from", change.From).
			Str("to", change.To).
			Msg("socket status changed")
		message := fmt.Sprintf("%s socket %s changed from %s to %s.",
			change.Socket.CuprName, change.Socket.SocketCode, change.From, change.To)
		if err := m.notifier.Notify(ctx, message); err != nil {
			m.logger.Error().Err(err).Msg("delivering status notification")
		}
	}
	return changes, nil
}
