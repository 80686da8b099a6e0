package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/chargekeep/chargekeep/evapi"
	"github.com/chargekeep/chargekeep/internal/config"
)

const (
	gatewayUserAgent = "Dalvik/2.1.0 (Linux; U; Android 11; SM-G930F Build/RQ3A.211001.001)"
	gatewayTimeout   = 30 * time.Second

	defaultSignatureVersion = "HMAC_SHA256_V1"
)

// SignedForm is the merchant form the gateway hands back; its three fields go
// verbatim into the payment submission.
type SignedForm struct {
	MerchantParameters string `json:"Ds_MerchantParameters"`
	Signature          string `json:"Ds_Signature"`
	SignatureVersion   string `json:"Ds_SignatureVersion"`
}

// Gateway calls the virtual payment signature endpoint.
type Gateway struct {
	cfg        config.PaymentConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayHTTPClient sets the underlying HTTP client.
func WithGatewayHTTPClient(hc *http.Client) GatewayOption {
	return func(g *Gateway) {
		g.httpClient = hc
	}
}

func NewGateway(cfg config.PaymentConfig, logger zerolog.Logger, options ...GatewayOption) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: gatewayTimeout},
		logger:     logger.With().Str("component", "payment-gateway").Logger(),
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// SignRequest builds the signed envelope for the order and trades it for the
// merchant form. One order reference is good for exactly one submission.
func (g *Gateway) SignRequest(ctx context.Context, order *evapi.Order, cardToken string, amountCents int) (*SignedForm, error) {
	message, err := compactJSON(buildEnvelope(g.cfg.GetBundleID(), order, cardToken, amountCents))
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.SignRequest] envelope")
	}
	firma, err := sign(message, g.cfg.GetGatewayLicense())
	if err != nil {
		return nil, err
	}
	datoEntrada, err := compactJSON(map[string]string{
		"firma":   firma,
		"mensaje": message,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.SignRequest] request body")
	}

	form := url.Values{"datoEntrada": {datoEntrada}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.GetGatewaySignatureURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.SignRequest]")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("User-Agent", gatewayUserAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.SignRequest]")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.SignRequest]")
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Errorf("[Gateway.SignRequest] gateway returned %d", resp.StatusCode)
	}

	// The response nests a JSON document as a string under "mensaje".
	var outer struct {
		Mensaje string `json:"mensaje"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, errors.Wrap(err, "[Gateway.SignRequest] response")
	}
	var inner struct {
		Code          int        `json:"code"`
		Desc          string     `json:"desc"`
		DatosPeticion SignedForm `json:"datosPeticion"`
	}
	if err := json.Unmarshal([]byte(outer.Mensaje), &inner); err != nil {
		return nil, errors.Wrap(err, "[Gateway.SignRequest] inner message")
	}
	if inner.Code != 0 {
		return nil, errors.Errorf("[Gateway.SignRequest] gateway rejected request: %s (code %d)", inner.Desc, inner.Code)
	}

	signed := inner.DatosPeticion
	if signed.MerchantParameters == "" || signed.Signature == "" {
		return nil, errors.New("[Gateway.SignRequest] gateway returned an empty merchant form")
	}
	if signed.SignatureVersion == "" {
		signed.SignatureVersion = defaultSignatureVersion
	}
	g.logger.Debug().Str("order_id", order.OrderID).Msg("merchant form signed")
	return &signed, nil
}
