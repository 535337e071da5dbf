package constants

import "strings"

type PaymentMethod string

const (
	CreditCard    PaymentMethod = "credit_card"
	DebitCard     PaymentMethod = "debit_card"
	Cash          PaymentMethod = "cash"
	BankTransfer  PaymentMethod = "bank_transfer"
	DigitalWallet PaymentMethod = "digital_wallet"
	Check         PaymentMethod = "check"
	OtherPayment  PaymentMethod = "other"
)

var allPaymentMethods = []PaymentMethod{CreditCard, DebitCard, Cash, BankTransfer, DigitalWallet, Check, OtherPayment}

// paymentAliases is checked in order, card networks first.
var paymentAliases = []struct {
	key    string
	method PaymentMethod
}{
	{"visa", CreditCard},
	{"mastercard", CreditCard},
	{"amex", CreditCard},
	{"american express", CreditCard},
	{"debit", DebitCard},
	{"paypal", DigitalWallet},
	{"apple pay", DigitalWallet},
	{"google pay", DigitalWallet},
}

func PaymentMethodStrings() []string {
	out := make([]string, len(allPaymentMethods))
	for i, m := range allPaymentMethods {
		out[i] = string(m)
	}
	return out
}

// CanonicalPaymentMethod maps card networks and wallet names onto the enum, defaulting to other.
func CanonicalPaymentMethod(input string) PaymentMethod {
	method := strings.ToLower(strings.TrimSpace(input))
	for _, m := range allPaymentMethods {
		if method == string(m) {
			return m
		}
	}
	for _, alias := range paymentAliases {
		if strings.Contains(method, alias.key) {
			return alias.method
		}
	}
	return OtherPayment
}
