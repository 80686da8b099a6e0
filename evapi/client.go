// Package evapi is the client for the operator's resource API: charge point
// status, the account's transaction and reservation state, payment orders and
// the reserve/cancel calls themselves. Reads retry with bounded backoff;
// anything that creates or cancels an order or a reservation is sent exactly
// once.
package evapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/chargekeep/chargekeep/internal/config"
)

// TokenSource yields an access token that is valid at the time of the call.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

const (
	userAgent   = "Iberdrola/4.35.0/Dalvik/2.1.0 (Linux; U; Android 13; SM-G991B Build/TP1A.220624.014)"
	appVersion  = "ANDROID-4.35.0"
	deviceModel = "samsung-o1s-SM-G991B"

	readRetries    = 2
	retryBase      = 500 * time.Millisecond
	requestTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Body)
}

// Client talks to the resource API with the device identity headers the
// backend expects and a fresh correlation id per request.
type Client struct {
	cfg        config.APIConfig
	tokens     TokenSource
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(cfg config.APIConfig, tokens TokenSource, logger zerolog.Logger, options ...ClientOption) *Client {
	c := &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With().Str("component", "evapi").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// ChargePoints fetches the detail documents for the given charge point ids.
// The endpoint is public, no token is attached.
func (c *Client) ChargePoints(ctx context.Context, cuprIDs []int) ([]ChargePoint, error) {
	var points []ChargePoint
	payload := map[string]any{"cuprId": cuprIDs}
	if err := c.retried(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/appchargepoint/getChargePoint", payload, &points, false)
	}); err != nil {
		return nil, errors.Wrap(err, "[Client.ChargePoints]")
	}
	return points, nil
}

// SocketStatus fetches the charge points and flattens them to one entry per
// physical connector.
func (c *Client) SocketStatus(ctx context.Context, cuprIDs []int) ([]Socket, error) {
	points, err := c.ChargePoints(ctx, cuprIDs)
	if err != nil {
		return nil, err
	}
	return FlattenSockets(points), nil
}

// TransactionInProgress reports the account's current recharge/reservation
// state.
func (c *Client) TransactionInProgress(ctx context.Context) (*Transaction, error) {
	var tx Transaction
	if err := c.retried(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/appoperation/transaction-in-progress", nil, &tx, true)
	}); err != nil {
		return nil, errors.Wrap(err, "[Client.TransactionInProgress]")
	}
	return &tx, nil
}

// ActiveReservation fetches the detailed view of the account's reservation.
func (c *Client) ActiveReservation(ctx context.Context) (*Reservation, error) {
	var res Reservation
	if err := c.retried(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/appreservation/getUserReservation", nil, &res, true)
	}); err != nil {
		return nil, errors.Wrap(err, "[Client.ActiveReservation]")
	}
	return &res, nil
}

// Favorites lists the account's favorite charge points.
func (c *Client) Favorites(ctx context.Context) ([]Favorite, error) {
	var favs []Favorite
	if err := c.retried(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/appfavoritechargepoint/get-favorite-charge-points", nil, &favs, true)
	}); err != nil {
		return nil, errors.Wrap(err, "[Client.Favorites]")
	}
	return favs, nil
}

// PaymentMethod fetches the stored card the reservation charge runs against.
func (c *Client) PaymentMethod(ctx context.Context) (*PaymentMethod, error) {
	var pm PaymentMethod
	if err := c.retried(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/apppayment/payment-method", nil, &pm, true)
	}); err != nil {
		return nil, errors.Wrap(err, "[Client.PaymentMethod]")
	}
	return &pm, nil
}

// OrderID opens a payment order for a reservation on the given connector.
// Never retried: every attempt must carry a fresh order reference, so a
// failure surfaces to the caller who decides whether to open another.
func (c *Client) OrderID(ctx context.Context, cuprID, physicalSocketID int, amount float64) (*Order, error) {
	var order Order
	payload := map[string]any{
		"cuprId":           cuprID,
		"physicalSocketId": physicalSocketID,
		"amount":           amount,
	}
	if err := c.do(ctx, http.MethodPost, "/apppayment/getOrderId", payload, &order, true); err != nil {
		return nil, errors.Wrap(err, "[Client.OrderID]")
	}
	if order.OrderID == "" {
		return nil, errors.New("[Client.OrderID] response carries no order id")
	}
	return &order, nil
}

// Reserve creates the reservation backed by a paid order. Never retried.
func (c *Client) Reserve(ctx context.Context, cuprID, physicalSocketID int, orderID string) (*ReservationResult, error) {
	var result ReservationResult
	payload := map[string]any{
		"cuprId":           cuprID,
		"physicalSocketId": physicalSocketID,
		"orderId":          orderID,
	}
	if err := c.do(ctx, http.MethodPost, "/appreservation/reserve", payload, &result, true); err != nil {
		return nil, errors.Wrap(err, "[Client.Reserve]")
	}
	return &result, nil
}

// CancelReservation releases the reservation on the given connector. Never
// retried; callers confirm the outcome through TransactionInProgress.
func (c *Client) CancelReservation(ctx context.Context, cuprID, physicalSocketID int) error {
	payload := map[string]any{
		"cuprId":           cuprID,
		"physicalSocketId": physicalSocketID,
	}
	if err := c.do(ctx, http.MethodPost, "/appreservation/cancel-reservation", payload, nil, true); err != nil {
		return errors.Wrap(err, "[Client.CancelReservation]")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, authenticated bool) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.GetAPIBaseURL()+path, body)
	if err != nil {
		return err
	}
	if err := c.setHeaders(ctx, req, authenticated); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, authenticated bool) error {
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "es-ES")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("versionApp", appVersion)
	req.Header.Set("Plataforma", "Android")
	req.Header.Set("societyId", "1")
	req.Header.Set("deviceid", c.cfg.GetDeviceID())
	req.Header.Set("deviceModel", deviceModel)
	req.Header.Set("darkMode", "0")
	req.Header.Set("c-rid", uuid.NewString())

	if lat, lon := c.cfg.GetLatitude(), c.cfg.GetLongitude(); lat != 0 && lon != 0 {
		req.Header.Set("numLat", strconv.FormatFloat(lat, 'f', -1, 64))
		req.Header.Set("numLon", strconv.FormatFloat(lon, 'f', -1, 64))
	}

	if !authenticated {
		req.Header.Set("Authorization", "")
		return nil
	}
	tok, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring token")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// retried runs an idempotent read with bounded exponential backoff. Network
// failures and 5xx responses retry; 4xx responses and context errors do not.
func (c *Client) retried(ctx context.Context, call func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(readRetries, retry.NewExponential(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := call(ctx)
		if retryable(err) {
			c.logger.Warn().Err(err).Msg("read failed, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
