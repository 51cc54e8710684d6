package payment

import "fmt"

type MethodKind string

const (
	MethodCreditCard   MethodKind = "CREDIT_CARD"
	MethodBankTransfer MethodKind = "BANK_TRANSFER"
	MethodPayPal       MethodKind = "PAYPAL"
)

// Method is a closed set of payment method variants. Each variant carries
// its own detail validation, the status a fresh charge starts in, and the
// transaction id prefix the gateway uses for it. Adding a method means
// adding a variant, not a conditional branch in callers.
type Method interface {
	Kind() MethodKind
	Validate() error
	// InitialStatus is the payment status a successful gateway charge
	// starts in. Bank transfers settle later and start pending.
	InitialStatus() Status
	TransactionPrefix() string
}

type CreditCard struct {
	Number string
	Expiry string
	CVV    string
}

func (CreditCard) Kind() MethodKind          { return MethodCreditCard }
func (CreditCard) InitialStatus() Status     { return StatusCompleted }
func (CreditCard) TransactionPrefix() string { return "cc" }

func (m CreditCard) Validate() error {
	if m.Number == "" || m.Expiry == "" || m.CVV == "" {
		return fmt.Errorf("%w: card number, expiry and cvv are required", ErrInvalidMethod)
	}
	return nil
}

// MaskedNumber keeps only the leading and trailing four digits, for logging.
func (m CreditCard) MaskedNumber() string {
	if len(m.Number) < 8 {
		return "****"
	}
	return m.Number[:4] + "****" + m.Number[len(m.Number)-4:]
}

type BankTransfer struct {
	Account  string
	BankName string
}

func (BankTransfer) Kind() MethodKind          { return MethodBankTransfer }
func (BankTransfer) InitialStatus() Status     { return StatusPending }
func (BankTransfer) TransactionPrefix() string { return "bt" }

func (m BankTransfer) Validate() error {
	if m.Account == "" || m.BankName == "" {
		return fmt.Errorf("%w: bank account and bank name are required", ErrInvalidMethod)
	}
	return nil
}

type PayPal struct {
	Email string
}

func (PayPal) Kind() MethodKind          { return MethodPayPal }
func (PayPal) InitialStatus() Status     { return StatusCompleted }
func (PayPal) TransactionPrefix() string { return "pp" }

func (m PayPal) Validate() error {
	if m.Email == "" {
		return fmt.Errorf("%w: paypal email is required", ErrInvalidMethod)
	}
	return nil
}
