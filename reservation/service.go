package reservation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/chargekeep/chargekeep/evapi"
	"github.com/chargekeep/chargekeep/internal/config"
	"github.com/chargekeep/chargekeep/notify"
	"github.com/chargekeep/chargekeep/payment"
)

// API is the slice of the resource API the scheduler drives.
type API interface {
	TransactionInProgress(ctx context.Context) (*evapi.Transaction, error)
	SocketStatus(ctx context.Context, cuprIDs []int) ([]evapi.Socket, error)
	PaymentMethod(ctx context.Context) (*evapi.PaymentMethod, error)
	OrderID(ctx context.Context, cuprID, physicalSocketID int, amount float64) (*evapi.Order, error)
	Reserve(ctx context.Context, cuprID, physicalSocketID int, orderID string) (*evapi.ReservationResult, error)
	CancelReservation(ctx context.Context, cuprID, physicalSocketID int) error
}

// Payer obtains the gateway approval for one payment order.
type Payer interface {
	Authorize(ctx context.Context, order *evapi.Order, cardToken string) (payment.Outcome, error)
}

const notifyTimeout = 15 * time.Second

// Service owns the one scheduler the account may run. Start, Cancel and
// Status are the whole command surface; everything else happens inside the
// scheduler loop.
type Service struct {
	cfg      config.ReserveConfig
	payCfg   config.PaymentConfig
	api      API
	payer    Payer
	notifier notify.Notifier
	store    *Store
	logger   zerolog.Logger
	nowTime  func() time.Time

	mu     sync.Mutex
	active *scheduler
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

func NewService(cfg config.ReserveConfig, payCfg config.PaymentConfig, api API, payer Payer, notifier notify.Notifier, store *Store, logger zerolog.Logger, options ...ServiceOption) *Service {
	s := &Service{
		cfg:      cfg,
		payCfg:   payCfg,
		api:      api,
		payer:    payer,
		notifier: notifier,
		store:    store,
		logger:   logger.With().Str("component", "reservation").Logger(),
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start acquires a reservation on the charge point and begins the renewal
// loop. It rejects with ErrAlreadyActive, before any network call, while a
// scheduler is already running.
func (s *Service) Start(ctx context.Context, chargerID int) error {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return errors.Wrap(ErrAlreadyActive, "[Service.Start]")
	}
	sch := newScheduler(s)
	s.active = sch
	s.mu.Unlock()

	snap, err := s.acquireInitial(ctx, chargerID)
	if err != nil {
		s.release(sch)
		sch.close()
		return err
	}

	sch.snap.Store(snap)
	if err := s.store.Save(snap); err != nil {
		s.logger.Error().Err(err).Msg("persisting reservation snapshot")
	}
	s.notify(ctx, fmt.Sprintf("Reservation active on charger %d socket %d. Next renewal at %s.",
		snap.ChargerID, snap.SocketID, snap.NextRenewalAt.Format(time.Kitchen)))

	go sch.run()
	return nil
}

// Cancel stops the running scheduler and releases the reservation upstream.
// Idempotent: cancelling when nothing is active is a no-op. During a renewal
// it takes effect as soon as the in-flight call completes.
func (s *Service) Cancel(ctx context.Context) error {
	s.mu.Lock()
	sch := s.active
	s.mu.Unlock()
	if sch == nil {
		return nil
	}

	sch.requestCancel()
	select {
	case <-sch.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current reservation record. The second return is false
// when no scheduler is running.
func (s *Service) Status() (Snapshot, bool) {
	s.mu.Lock()
	sch := s.active
	s.mu.Unlock()
	if sch == nil {
		return Snapshot{}, false
	}
	snap := sch.snap.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// Resume restarts the renewal loop from a persisted snapshot, if one exists
// in a non-terminal state. Returns whether a loop was resumed.
func (s *Service) Resume(ctx context.Context) (bool, error) {
	snap, err := s.store.Load()
	if err != nil {
		return false, errors.Wrap(err, "[Service.Resume]")
	}
	if snap == nil || snap.State.Terminal() {
		return false, nil
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return false, errors.Wrap(ErrAlreadyActive, "[Service.Resume]")
	}
	sch := newScheduler(s)
	snap.State = StateActive
	sch.snap.Store(snap)
	s.active = sch
	s.mu.Unlock()

	s.logger.Info().
		Int("charger_id", snap.ChargerID).
		Time("next_renewal_at", snap.NextRenewalAt).
		Msg("resuming renewal loop from snapshot")
	go sch.run()
	return true, nil
}

// Shutdown stops the scheduler loop without cancelling the reservation
// upstream. The persisted snapshot lets the next process resume it.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sch := s.active
	s.mu.Unlock()
	if sch == nil {
		return nil
	}

	sch.close()
	select {
	case <-sch.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireInitial checks the account holds nothing upstream, picks an
// available connector and runs the first pay-and-reserve cycle.
func (s *Service) acquireInitial(ctx context.Context, chargerID int) (*Snapshot, error) {
	tx, err := s.api.TransactionInProgress(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Start] checking transactions")
	}
	if tx.ReservationInProgress {
		return nil, errors.Wrap(ErrAlreadyActive, "[Service.Start] upstream reservation in progress")
	}

	sockets, err := s.api.SocketStatus(ctx, []int{chargerID})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Start] reading socket status")
	}
	socketID := -1
	for _, sock := range sockets {
		if sock.Status == evapi.SocketAvailable {
			socketID = sock.PhysicalSocketID
			break
		}
	}
	if socketID < 0 {
		return nil, errors.Wrapf(ErrResourceUnavailable, "[Service.Start] charger %d", chargerID)
	}

	reservationID, err := s.payAndReserve(ctx, chargerID, socketID)
	if err != nil {
		return nil, err
	}

	now := s.nowTime()
	return &Snapshot{
		ChargerID:     chargerID,
		SocketID:      socketID,
		ReservationID: reservationID,
		State:         StateActive,
		CreatedAt:     now,
		LastRenewedAt: now,
		NextRenewalAt: now.Add(s.cfg.GetRenewInterval()),
	}, nil
}

// payAndReserve opens a fresh payment order, waits for the gateway approval
// and creates the reservation. Every call uses a new order reference; none of
// the calls here is ever retried.
func (s *Service) payAndReserve(ctx context.Context, chargerID, socketID int) (int, error) {
	pm, err := s.api.PaymentMethod(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "[Service.payAndReserve] payment method")
	}

	amount := float64(s.payCfg.GetPaymentAmountCents()) / 100
	order, err := s.api.OrderID(ctx, chargerID, socketID, amount)
	if err != nil {
		return 0, errors.Wrap(err, "[Service.payAndReserve] opening order")
	}

	outcome, err := s.payer.Authorize(ctx, order, pm.Token)
	if err != nil {
		return 0, errors.Wrap(err, "[Service.payAndReserve] payment")
	}
	if outcome != payment.OutcomeApproved {
		return 0, errors.Wrapf(ErrPaymentNotApproved, "[Service.payAndReserve] outcome %s", outcome)
	}

	result, err := s.api.Reserve(ctx, chargerID, socketID, order.OrderID)
	if err != nil {
		return 0, errors.Wrap(err, "[Service.payAndReserve] reserving")
	}
	return result.ReservationID, nil
}

func (s *Service) release(sch *scheduler) {
	s.mu.Lock()
	if s.active == sch {
		s.active = nil
	}
	s.mu.Unlock()
}

// notify delivers a user-facing message; delivery failures are logged, never
// propagated into the state machine.
func (s *Service) notify(ctx context.Context, message string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, message); err != nil {
		s.logger.Error().Err(err).Msg("delivering notification")
	}
}

// scheduler is the single background loop holding one reservation. The loop
// goroutine is the only writer of the snapshot.
type scheduler struct {
	svc  *Service
	snap atomic.Pointer[Snapshot]

	ctx  context.Context
	halt context.CancelFunc

	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func newScheduler(svc *Service) *scheduler {
	ctx, halt := context.WithCancel(context.Background())
	return &scheduler{
		svc:      svc,
		ctx:      ctx,
		halt:     halt,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// requestCancel asks the loop to stop and release the reservation. Safe to
// call any number of times.
func (sch *scheduler) requestCancel() {
	sch.cancelOnce.Do(func() { close(sch.cancelCh) })
}

func (sch *scheduler) cancelRequested() bool {
	select {
	case <-sch.cancelCh:
		return true
	default:
		return false
	}
}

func (sch *scheduler) close() {
	sch.halt()
	select {
	case <-sch.done:
	default:
		// run() may never have started for this scheduler.
		if sch.snap.Load() == nil {
			close(sch.done)
		}
	}
}

func (sch *scheduler) run() {
	defer close(sch.done)
	defer sch.svc.release(sch)
	defer sch.halt()

	cadence := sch.svc.cfg.GetRenewInterval()
	timer := time.NewTimer(cadence)
	defer timer.Stop()
	statusTick := time.NewTicker(sch.svc.cfg.GetStatusPollInterval())
	defer statusTick.Stop()

	// A resumed snapshot may already be close to, or past, its renewal time.
	if remaining := time.Until(sch.snap.Load().NextRenewalAt); remaining < cadence {
		if remaining < 0 {
			remaining = 0
		}
		timer.Reset(remaining)
	}

	for {
		select {
		case <-sch.ctx.Done():
			// Shutdown: keep the reservation and the snapshot for resumption.
			return
		case <-sch.cancelCh:
			sch.finalizeCancel()
			return
		case <-timer.C:
			if !sch.renew() {
				return
			}
			timer.Reset(cadence)
		case <-statusTick.C:
			if sch.observe() {
				return
			}
		}
	}
}

// renew runs one cancel-pay-reserve cycle. Returns false when the loop must
// stop; the terminal state has then already been recorded and notified.
func (sch *scheduler) renew() bool {
	snap := *sch.snap.Load()
	snap.State = StateRenewing
	sch.publish(&snap)

	// A user cancel interrupts the cycle, including the payment wait.
	cycleCtx, cancelCycle := context.WithCancel(sch.ctx)
	defer cancelCycle()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-sch.cancelCh:
			cancelCycle()
		case <-watchDone:
		}
	}()

	if err := sch.svc.api.CancelReservation(cycleCtx, snap.ChargerID, snap.SocketID); err != nil {
		return sch.cycleFailed(snap, "releasing the held reservation", err)
	}
	if sch.cancelRequested() {
		sch.finalizeCancel()
		return false
	}

	reservationID, err := sch.svc.payAndReserve(cycleCtx, snap.ChargerID, snap.SocketID)
	if sch.cancelRequested() {
		sch.finalizeCancel()
		return false
	}
	if err != nil {
		return sch.cycleFailed(snap, "renewing the reservation", err)
	}
	if sch.ctx.Err() != nil {
		return false
	}

	// The next renewal is anchored at this cycle's completion time, not the
	// original schedule, so slow cycles cannot drift into the upstream
	// expiry.
	now := sch.svc.nowTime()
	snap.ReservationID = reservationID
	snap.State = StateActive
	snap.LastRenewedAt = now
	snap.NextRenewalAt = now.Add(sch.svc.cfg.GetRenewInterval())
	sch.publish(&snap)

	sch.svc.notify(sch.ctx, fmt.Sprintf("Reservation renewed on charger %d socket %d. Next renewal at %s.",
		snap.ChargerID, snap.SocketID, snap.NextRenewalAt.Format(time.Kitchen)))
	return true
}

func (sch *scheduler) cycleFailed(snap Snapshot, what string, err error) bool {
	if sch.ctx.Err() != nil {
		// Shutdown raced the cycle; not a failure of the reservation.
		return false
	}
	if sch.cancelRequested() {
		// A user cancel interrupted the in-flight call; the cycle ends as
		// cancelled, not failed.
		sch.finalizeCancel()
		return false
	}
	sch.svc.logger.Error().Err(err).Msg(what)
	sch.terminal(snap, StateFailed, fmt.Sprintf("Reservation on charger %d lost: %s failed (%v).",
		snap.ChargerID, what, err))
	return false
}

// observe checks the account's live transaction state between renewals.
// Returns true when a terminal condition was detected.
func (sch *scheduler) observe() bool {
	tx, err := sch.svc.api.TransactionInProgress(sch.ctx)
	if err != nil {
		// Transient: the next tick or the renewal timer will see a fresh
		// picture.
		sch.svc.logger.Warn().Err(err).Msg("status observation failed")
		return false
	}

	snap := *sch.snap.Load()
	if tx.RechargeInProgress {
		// The socket is in use: the reservation served its purpose, leave it
		// alone upstream.
		sch.terminal(snap, StateCharging, fmt.Sprintf("Charging started on charger %d socket %d, renewal stopped.",
			snap.ChargerID, snap.SocketID))
		return true
	}
	if !tx.ReservationInProgress {
		sch.terminal(snap, StateExpired, fmt.Sprintf("Reservation on charger %d is no longer held upstream, renewal stopped.",
			snap.ChargerID))
		return true
	}
	return false
}

// finalizeCancel releases the reservation upstream best-effort and records
// the Cancelled terminal state.
func (sch *scheduler) finalizeCancel() {
	snap := *sch.snap.Load()

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := sch.svc.api.CancelReservation(ctx, snap.ChargerID, snap.SocketID); err != nil {
		sch.svc.logger.Warn().Err(err).Msg("upstream cancel failed")
	}

	sch.terminal(snap, StateCancelled, fmt.Sprintf("Reservation on charger %d socket %d cancelled.",
		snap.ChargerID, snap.SocketID))
}

// terminal records a terminal state and emits its one notification.
func (sch *scheduler) terminal(snap Snapshot, state State, message string) {
	snap.State = state
	sch.publish(&snap)
	sch.svc.notify(context.Background(), message)
}

func (sch *scheduler) publish(snap *Snapshot) {
	sch.snap.Store(snap)
	if err := sch.svc.store.Save(snap); err != nil {
		sch.svc.logger.Error().Err(err).Msg("persisting reservation snapshot")
	}
}
