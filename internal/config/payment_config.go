package config

import "time"

type PaymentConfig interface {
	GetGatewaySignatureURL() string
	GetGatewayPaymentURL() string
	GetGatewayLicense() string
	GetBundleID() string
	GetApprovalURLPattern() string
	GetDeclineURLPattern() string
	GetPaymentDeadline() time.Duration
	GetPaymentAmountCents() int
}

type Payment struct{}

var _ PaymentConfig = Payment{}

func (Payment) GetGatewaySignatureURL() string {
	return GetEnv("GATEWAY_SIGNATURE_URL", "https://sis.redsys.es/sis/virtualControllerV2/generaFirmaPagoVirtual")
}

func (Payment) GetGatewayPaymentURL() string {
	return GetEnv("GATEWAY_PAYMENT_URL", "https://sis.redsys.es/sis/realizarPago")
}

// GetGatewayLicense returns the shared secret the gateway expects appended to
// the signed message.
func (Payment) GetGatewayLicense() string {
	return GetEnv("GATEWAY_LICENSE", "")
}

func (Payment) GetBundleID() string {
	return GetEnv("GATEWAY_BUNDLE", "es.iberdrola.recargaverde")
}

// GetApprovalURLPattern returns the substring of the terminal redirect that
// marks a completed strong-customer authentication.
func (Payment) GetApprovalURLPattern() string {
	return GetEnv("GATEWAY_APPROVAL_URL", "eva.iberdrola.com/vepagos/api/redsys/notification")
}

func (Payment) GetDeclineURLPattern() string {
	return GetEnv("GATEWAY_DECLINE_URL", "")
}

func (Payment) GetPaymentDeadline() time.Duration {
	return GetEnvDuration("PAYMENT_DEADLINE", 2*time.Minute)
}

func (Payment) GetPaymentAmountCents() int {
	return GetEnvInt("PAYMENT_AMOUNT_CENTS", 100)
}
