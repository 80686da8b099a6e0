package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/chargekeep/chargekeep/auth"
	"github.com/chargekeep/chargekeep/evapi"
	"github.com/chargekeep/chargekeep/internal/config"
	"github.com/chargekeep/chargekeep/mailcode"
	"github.com/chargekeep/chargekeep/monitor"
	"github.com/chargekeep/chargekeep/notify"
	"github.com/chargekeep/chargekeep/payment"
	"github.com/chargekeep/chargekeep/reservation"
	"github.com/chargekeep/chargekeep/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running chargekeep: %s\n", err)
	}
	log.Printf("chargekeep stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())
	logger := newLogger(c)

	app, err := wire(c, logger)
	if err != nil {
		return err
	}
	defer app.close()

	command := "watch"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch command {
	case "watch":
		return app.watch(ctx)
	case "reserve":
		return app.reserve(ctx)
	case "cancel":
		return app.cancelReservation(ctx)
	case "status":
		return app.status(ctx)
	default:
		return errors.Errorf("unknown command %q (expected watch, reserve, cancel or status)", command)
	}
}

// application holds the wired components for the lifetime of the process.
type application struct {
	cfg          config.Config
	logger       zerolog.Logger
	api          *evapi.Client
	reservations *reservation.Service
	monitor      *monitor.Monitor
	monitorStore *monitor.Store
	resStore     *reservation.Store
}

func wire(c config.Config, logger zerolog.Logger) (*application, error) {
	dataDir := c.GetDataFolder()

	solver := mailcode.NewReader(c, logger)
	authenticator := auth.NewAuthenticator(c, solver, logger)

	managerOptions := []token.ManagerOption{}
	if issuer := c.GetOIDCIssuer(); issuer != "" {
		managerOptions = append(managerOptions,
			token.WithIDTokenVerifier(token.NewOIDCVerifier(issuer, c.GetClientID())))
	}
	sessionStore := token.NewStore(filepath.Join(dataDir, "session.json"), c.GetSessionKey())
	manager, err := token.NewManager(c, sessionStore, authenticator, logger, managerOptions...)
	if err != nil {
		return nil, err
	}

	api := evapi.NewClient(c, manager, logger)
	bridge := payment.NewBridge(c, payment.NewGateway(c, logger), logger)
	notifier := buildNotifier(c, logger)

	resStore := reservation.NewStore(filepath.Join(dataDir, "reservation.json"))
	reservations := reservation.NewService(c, c, api, bridge, notifier, resStore, logger)

	monitorStore, err := monitor.OpenStore(filepath.Join(dataDir, "monitor.db"))
	if err != nil {
		return nil, err
	}
	mon := monitor.NewMonitor(c, c.GetStatusPollInterval(), api, monitorStore, notifier, logger)

	return &application{
		cfg:          c,
		logger:       logger,
		api:          api,
		reservations: reservations,
		monitor:      mon,
		monitorStore: monitorStore,
		resStore:     resStore,
	}, nil
}

func (app *application) close() {
	if err := app.monitorStore.Close(); err != nil {
		app.logger.Error().Err(err).Msg("closing monitor store")
	}
}

// watch is the daemon mode: resume a persisted renewal loop if one exists and
// keep the status monitor running until a stop signal.
func (app *application) watch(ctx context.Context) error {
	resumed, err := app.reservations.Resume(ctx)
	if err != nil {
		app.logger.Error().Err(err).Msg("resuming reservation")
	}
	if resumed {
		app.logger.Info().Msg("renewal loop resumed from persisted snapshot")
	}

	go func() {
		if err := app.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error().Err(err).Msg("monitor stopped")
		}
	}()

	waitForStopSignal()
	return app.shutdown()
}

// reserve starts a reservation on the requested charger (argument, or the
// first configured one) and then behaves like watch: the process must stay up
// for the renewal loop.
func (app *application) reserve(ctx context.Context) error {
	chargerID, err := app.targetCharger()
	if err != nil {
		return err
	}

	if err := app.reservations.Start(ctx, chargerID); err != nil {
		return errors.Wrapf(err, "reserving charger %d", chargerID)
	}

	go func() {
		if err := app.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error().Err(err).Msg("monitor stopped")
		}
	}()

	waitForStopSignal()
	return app.shutdown()
}

// cancelReservation releases whatever reservation the account holds, whether
// or not this process has a scheduler for it.
func (app *application) cancelReservation(ctx context.Context) error {
	resumed, err := app.reservations.Resume(ctx)
	if err != nil {
		return err
	}
	if resumed {
		return app.reservations.Cancel(ctx)
	}

	tx, err := app.api.TransactionInProgress(ctx)
	if err != nil {
		return err
	}
	if !tx.ReservationInProgress {
		fmt.Println("No active reservation.")
		return app.resStore.Clear()
	}
	if err := app.api.CancelReservation(ctx, tx.CuprID, tx.PhysicalSocketID); err != nil {
		return err
	}
	fmt.Println("Reservation cancelled.")
	return app.resStore.Clear()
}

func (app *application) status(ctx context.Context) error {
	tx, err := app.api.TransactionInProgress(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Recharge in progress:    %t\n", tx.RechargeInProgress)
	fmt.Printf("Reservation in progress: %t\n", tx.ReservationInProgress)
	if !tx.ReservationInProgress {
		return nil
	}

	res, err := app.api.ActiveReservation(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Reservation %d on %s socket %d (%s), %s until %s\n",
		res.ReservationID, res.ChargePointInfo.FoldedTitle, res.PhysicalSocketID,
		res.SocketType.SocketName, res.StartDate, res.EndDate)

	if snap, err := app.resStore.Load(); err == nil && snap != nil && !snap.State.Terminal() {
		fmt.Printf("Renewal loop: %s, next renewal at %s\n", snap.State, snap.NextRenewalAt.Format(time.RFC3339))
	}
	return nil
}

func (app *application) targetCharger() (int, error) {
	if len(os.Args) > 2 {
		id, err := strconv.Atoi(os.Args[2])
		if err != nil {
			return 0, errors.Wrapf(err, "charger id %q", os.Args[2])
		}
		return id, nil
	}
	ids := app.cfg.GetChargerIDs()
	if len(ids) == 0 {
		return 0, errors.New("no charger id given and CHARGER_IDS is empty")
	}
	return ids[0], nil
}

func (app *application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.reservations.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutting down renewal loop")
	}
	return nil
}

func buildNotifier(c config.Config, logger zerolog.Logger) notify.Notifier {
	sinks := []notify.Notifier{notify.NewLogNotifier(logger)}
	if tok, chat := c.GetTelegramToken(), c.GetTelegramChatID(); tok != "" && chat != 0 {
		telegram, err := notify.NewTelegramNotifier(tok, chat)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			sinks = append(sinks, telegram)
		}
	}
	return notify.NewMulti(logger, sinks...)
}

func newLogger(c config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	if c.GetEnv() == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
