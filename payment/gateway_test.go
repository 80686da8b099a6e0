package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type paymentConfig struct {
	signatureURL string
}

func (c paymentConfig) GetGatewaySignatureURL() string { return c.signatureURL }
func (c paymentConfig) GetGatewayPaymentURL() string { return "https://gateway.example.com/pay" }
func (c paymentConfig) GetGatewayLicense() string { return "test-license" }
func (c paymentConfig) GetBundleID() string { return "es.example.app" }
func (c paymentConfig) GetApprovalURLPattern() string {
	return "merchant.example.com/notification"
}
func (c paymentConfig) GetDeclineURLPattern() string { return "" }
func (c paymentConfig) GetPaymentDeadline() time.Duration { return 2 * time.Minute }
func (c paymentConfig) GetPaymentAmountCents() int { return 100 }

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestSignRequest(t *testing.T) {
	var gotMensaje, gotFirma string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var datoEntrada struct {
			Firma   string `json:"firma"`
			Mensaje string `json:"mensaje"`
		}
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("datoEntrada")), &datoEntrada))
		gotMensaje, gotFirma = datoEntrada.Mensaje, datoEntrada.Firma

		inner, err := json.Marshal(map[string]any{
			"code": 0,
			"datosPeticion": map[string]string{
				"Ds_MerchantParameters": "cGFyYW1z",
				"Ds_Signature":          "c2lnbmF0dXJl",
			},
		})
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]string{"mensaje": string(inner)})
	}))
	t.Cleanup(server.Close)

	g := NewGateway(paymentConfig{signatureURL: server.URL}, testLogger())
	form, err := g.SignRequest(context.Background(), testOrder(), "card-token-1", 100)
	require.NoError(t, err)

	require.Equal(t, "cGFyYW1z", form.MerchantParameters)
	require.Equal(t, "c2lnbmF0dXJl", form.Signature)
	require.Equal(t, defaultSignatureVersion, form.SignatureVersion, "version defaults when the gateway omits it")

	// The firma must be the hash of exactly the message that was sent.
	expected, err := sign(gotMensaje, "test-license")
	require.NoError(t, err)
	require.Equal(t, expected, gotFirma)

	var env envelope
	require.NoError(t, json.Unmarshal([]byte(gotMensaje), &env))
	require.Equal(t, "0001abc", env.Parametros.Order)
	require.Equal(t, "card-token-1", env.Parametros.Identifier)
}

func TestSignRequestGatewayRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner := `{"code":1101,"desc":"firma invalida"}`
		json.NewEncoder(w).Encode(map[string]string{"mensaje": inner})
	}))
	t.Cleanup(server.Close)

	g := NewGateway(paymentConfig{signatureURL: server.URL}, testLogger())
	_, err := g.SignRequest(context.Background(), testOrder(), "card-token-1", 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "firma invalida")
}

func TestSignRequestHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	g := NewGateway(paymentConfig{signatureURL: server.URL}, testLogger())
	_, err := g.SignRequest(context.Background(), testOrder(), "card-token-1", 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprint(http.StatusServiceUnavailable))
}
