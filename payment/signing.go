// Package payment obtains the gateway authorization that must precede every
// reservation: it signs the virtual payment envelope the way the mobile app
// does, trades it for the gateway's merchant form, and drives a headless
// browser through the strong-customer-authentication wait.
package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"

	"github.com/chargekeep/chargekeep/evapi"
)

const (
	merchantModule  = "PSis_Android"
	envelopeOS      = "Android"
	envelopeVersion = "2.3.0"

	transactionTypeAuthorization = "1"
)

// merchantParams is the Ds_Merchant block of the virtual payment message.
// Field order is part of the signed byte string and must stay stable.
type merchantParams struct {
	TransactionType    string `json:"Ds_Merchant_TransactionType"`
	URLOk              string `json:"Ds_Merchant_UrlOK"`
	Identifier         string `json:"Ds_Merchant_Identifier"`
	DirectPayment      string `json:"Ds_Merchant_DirectPayment"`
	Amount             string `json:"Ds_Merchant_Amount"`
	URLKo              string `json:"Ds_Merchant_UrlKO"`
	Order              string `json:"Ds_Merchant_Order"`
	Currency           string `json:"Ds_Merchant_Currency"`
	MerchantCode       string `json:"Ds_Merchant_MerchantCode"`
	Module             string `json:"Ds_Merchant_Module"`
	ProductDescription string `json:"Ds_Merchant_ProductDescription"`
	Terminal           string `json:"Ds_Merchant_Terminal"`
	ConsumerLanguage   string `json:"Ds_Merchant_ConsumerLanguage"`
	MerchantURL        string `json:"Ds_Merchant_MerchantURL"`
}

type envelope struct {
	Parametros merchantParams `json:"parametros"`
	Bundle     string         `json:"bundle"`
	SO         string         `json:"so"`
	FUC        string         `json:"fuc"`
	Terminal   string         `json:"terminal"`
	Version    string         `json:"version"`
}

func buildEnvelope(bundle string, order *evapi.Order, cardToken string, amountCents int) envelope {
	lang := order.ConsumerLanguage
	if lang == "" {
		lang = "001"
	}
	return envelope{
		Parametros: merchantParams{
			TransactionType:    transactionTypeAuthorization,
			URLOk:              order.URLOk,
			Identifier:         cardToken,
			DirectPayment:      "false",
			Amount:             strconv.Itoa(amountCents),
			URLKo:              order.URLKo,
			Order:              order.OrderID,
			Currency:           order.Currency,
			MerchantCode:       order.MerchantCode,
			Module:             merchantModule,
			ProductDescription: order.ProductDescription,
			Terminal:           order.Terminal,
			ConsumerLanguage:   lang,
			MerchantURL:        order.MerchantURL,
		},
		Bundle:   bundle,
		SO:       envelopeOS,
		FUC:      order.MerchantCode,
		Terminal: order.Terminal,
		Version:  envelopeVersion,
	}
}

// sign hashes the message plus the shared license with SHA-256 over the
// ISO-8859-1 byte representation, hex encoded. The gateway validates the same
// construction on its side.
func sign(message, license string) (string, error) {
	latin, err := charmap.ISO8859_1.NewEncoder().String(message + license)
	if err != nil {
		return "", errors.Wrap(err, "[payment.sign] message not representable in ISO-8859-1")
	}
	sum := sha256.Sum256([]byte(latin))
	return hex.EncodeToString(sum[:]), nil
}

func compactJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
