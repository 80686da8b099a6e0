package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/chargekeep/chargekeep/evapi"
	"github.com/chargekeep/chargekeep/internal/config"
)

// Outcome classifies an authorization attempt. TimedOut and Declined are
// results, not errors; an error means the attempt itself could not run.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
	OutcomeTimedOut Outcome = "timed_out"
)

const (
	browserUserAgent = "Mozilla/5.0 (Linux; Android 11; SM-G930F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.6668.70 Mobile Safari/537.36"
	locationPoll     = 500 * time.Millisecond
)

// The challenge page is reached by submitting the merchant form, not by
// navigation, so the bridge loads a self-submitting page.
var formPage = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html>
<head><title>Procesando pago</title></head>
<body>
<form id="paymentForm" action="{{.Action}}" method="POST">
<input type="hidden" name="Ds_MerchantParameters" value="{{.Form.MerchantParameters}}">
<input type="hidden" name="Ds_Signature" value="{{.Form.Signature}}">
<input type="hidden" name="Ds_SignatureVersion" value="{{.Form.SignatureVersion}}">
</form>
<script>document.getElementById('paymentForm').submit();</script>
</body>
</html>`))

// Bridge runs the full approval: sign the order, submit the merchant form in
// a browser and watch the navigation until the gateway redirects to the
// merchant notification URL, declines, or the deadline passes. Every attempt
// gets its own browser context and tears it down on every exit path.
type Bridge struct {
	cfg     config.PaymentConfig
	gateway *Gateway
	logger  zerolog.Logger
	headful bool
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithHeadfulBrowser shows the browser window, useful when the approval is
// done by a person watching the 3-D Secure page rather than a banking app.
func WithHeadfulBrowser() BridgeOption {
	return func(b *Bridge) {
		b.headful = true
	}
}

func NewBridge(cfg config.PaymentConfig, gateway *Gateway, logger zerolog.Logger, options ...BridgeOption) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		gateway: gateway,
		logger:  logger.With().Str("component", "payment-bridge").Logger(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Authorize obtains payment approval for the order. It blocks until the
// gateway approves, declines, or the configured deadline passes.
func (b *Bridge) Authorize(ctx context.Context, order *evapi.Order, cardToken string) (Outcome, error) {
	form, err := b.gateway.SignRequest(ctx, order, cardToken, b.cfg.GetPaymentAmountCents())
	if err != nil {
		return "", err
	}
	return b.waitForApproval(ctx, order, form)
}

func (b *Bridge) waitForApproval(parent context.Context, order *evapi.Order, form *SignedForm) (Outcome, error) {
	deadline := b.cfg.GetPaymentDeadline()
	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(browserUserAgent),
		chromedp.Flag("headless", !b.headful),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	page, err := b.renderFormPage(form)
	if err != nil {
		return "", err
	}
	if err := chromedp.Run(browserCtx, chromedp.Navigate(page)); err != nil {
		return "", errors.Wrap(err, "[Bridge.waitForApproval] submitting merchant form")
	}

	b.logger.Info().
		Str("order_id", order.OrderID).
		Dur("deadline", deadline).
		Msg("waiting for payment approval")

	ticker := time.NewTicker(locationPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return "", parent.Err()
			}
			return OutcomeTimedOut, nil
		case <-ticker.C:
			var location string
			if err := chromedp.Run(browserCtx, chromedp.Location(&location)); err != nil {
				// The approval redirect can land on a protected URL, which
				// kills the page load but still moves the location; a run
				// error here is not conclusive on its own.
				b.logger.Debug().Err(err).Msg("location poll failed")
				continue
			}
			if outcome, done := b.classify(location, order); done {
				b.logger.Info().Str("outcome", string(outcome)).Msg("payment finished")
				return outcome, nil
			}
		}
	}
}

// classify decides whether the browser's current location terminates the
// wait.
func (b *Bridge) classify(location string, order *evapi.Order) (Outcome, bool) {
	if location == "" {
		return "", false
	}
	if pattern := b.cfg.GetApprovalURLPattern(); pattern != "" && strings.Contains(location, pattern) {
		return OutcomeApproved, true
	}
	if pattern := b.cfg.GetDeclineURLPattern(); pattern != "" && strings.Contains(location, pattern) {
		return OutcomeDeclined, true
	}
	if order.URLKo != "" && strings.HasPrefix(location, order.URLKo) {
		return OutcomeDeclined, true
	}
	return "", false
}

func (b *Bridge) renderFormPage(form *SignedForm) (string, error) {
	var sb strings.Builder
	data := struct {
		Action string
		Form   *SignedForm
	}{Action: b.cfg.GetGatewayPaymentURL(), Form: form}
	if err := formPage.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "[Bridge.renderFormPage]")
	}
	return fmt.Sprintf("data:text/html;base64,%s",
		base64.StdEncoding.EncodeToString([]byte(sb.String()))), nil
}
