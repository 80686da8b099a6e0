package payment

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chargekeep/chargekeep/evapi"
)

func testOrder() *evapi.Order {
	return &evapi.Order{
		OrderID:            "0001abc",
		MerchantCode:       "123456789",
		Terminal:           "1",
		Currency:           "978",
		ProductDescription: "Reserva punto de recarga",
		MerchantURL:        "https://merchant.example.com/notification",
		URLOk:              "https://merchant.example.com/ok",
		URLKo:              "https://merchant.example.com/ko",
	}
}

func TestSign(t *testing.T) {
	got, err := sign(`{"test":"data"}`, "test-license")
	require.NoError(t, err)
	require.Equal(t, "c1bb7c62712096ec694a447c80637c554e8bde5ffb4ee8c37b882be0217275fa", got)
}

func TestSignDiffersByLicense(t *testing.T) {
	a, err := sign(`{"test":"data"}`, "license-a")
	require.NoError(t, err)
	b, err := sign(`{"test":"data"}`, "license-b")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestBuildEnvelope(t *testing.T) {
	env := buildEnvelope("es.example.app", testOrder(), "card-token-1", 100)

	require.Equal(t, "1", env.Parametros.TransactionType)
	require.Equal(t, "card-token-1", env.Parametros.Identifier)
	require.Equal(t, "100", env.Parametros.Amount)
	require.Equal(t, "0001abc", env.Parametros.Order)
	require.Equal(t, "978", env.Parametros.Currency)
	require.Equal(t, "123456789", env.Parametros.MerchantCode)
	require.Equal(t, "false", env.Parametros.DirectPayment)
	require.Equal(t, "PSis_Android", env.Parametros.Module)
	require.Equal(t, "001", env.Parametros.ConsumerLanguage, "language defaults when the order omits it")

	require.Equal(t, "es.example.app", env.Bundle)
	require.Equal(t, "Android", env.SO)
	require.Equal(t, "123456789", env.FUC)
	require.Equal(t, "1", env.Terminal)
}

func TestEnvelopeConsumerLanguagePassthrough(t *testing.T) {
	order := testOrder()
	order.ConsumerLanguage = "002"
	env := buildEnvelope("es.example.app", order, "card-token-1", 100)
	require.Equal(t, "002", env.Parametros.ConsumerLanguage)
}

func TestCompactJSONHasNoWhitespace(t *testing.T) {
	message, err := compactJSON(buildEnvelope("es.example.app", testOrder(), "tok", 100))
	require.NoError(t, err)
	require.NotContains(t, message, ": ")
	require.NotContains(t, message, ", ")
	require.True(t, strings.HasPrefix(message, `{"parametros":{"Ds_Merchant_TransactionType":"1"`),
		"the parameter block order is part of the signed bytes")
}

func TestClassify(t *testing.T) {
	b := NewBridge(paymentConfig{}, nil, testLogger())
	order := testOrder()

	tests := []struct {
		name     string
		location string
		outcome  Outcome
		done     bool
	}{
		{"empty location", "", "", false},
		{"still on challenge page", "https://sis.redsys.es/sis/realizarPago", "", false},
		{"approval redirect", "https://merchant.example.com/notification?Ds_Response=0000", OutcomeApproved, true},
		{"merchant failure url", "https://merchant.example.com/ko?Ds_Response=0180", OutcomeDeclined, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outcome, done := b.classify(tc.location, order)
			require.Equal(t, tc.done, done)
			require.Equal(t, tc.outcome, outcome)
		})
	}
}

func TestRenderFormPage(t *testing.T) {
	b := NewBridge(paymentConfig{}, nil, testLogger())
	form := &SignedForm{
		MerchantParameters: "ZXhhbXBsZQ==",
		Signature:          "c2ln",
		SignatureVersion:   "HMAC_SHA256_V1",
	}

	page, err := b.renderFormPage(form)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(page, "data:text/html;base64,"))

	html, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(page, "data:text/html;base64,"))
	require.NoError(t, err)
	require.Contains(t, string(html), `action="https://gateway.example.com/pay"`)
	require.Contains(t, string(html), `value="ZXhhbXBsZQ=="`)
	require.Contains(t, string(html), "paymentForm")
	require.Contains(t, string(html), ".submit()")
}
