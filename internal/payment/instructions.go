package payment

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

// BankAccount is the receiving account shown to buyers
type BankAccount struct {
	BankCode      string
	AccountNumber string
	AccountName   string
	Currency      string
	// QRBaseURL renders a hosted QR image, e.g. https://img.vietqr.io/image
	QRBaseURL string
}

// Descriptor tells the buyer how to pay a bank transfer order
type Descriptor struct {
	BankCode        string          `json:"bankCode"`
	AccountNumber   string          `json:"accountNumber"`
	AccountName     string          `json:"accountName"`
	Amount          decimal.Decimal `json:"amount"`
	TransferContent string          `json:"transferContent"`
	QRURL           string          `json:"qrUrl"`
	QRImage         string          `json:"qrImage,omitempty"`
}

// Describe builds the payment descriptor for a correlation code and amount.
// A QR rendering failure leaves QRImage empty; the hosted QRURL still works.
func (a BankAccount) Describe(code string, amount decimal.Decimal) Descriptor {
	d := Descriptor{
		BankCode:        a.BankCode,
		AccountNumber:   a.AccountNumber,
		AccountName:     a.AccountName,
		Amount:          amount,
		TransferContent: code,
		QRURL:           a.qrURL(code, amount),
	}
	if img, err := a.QRImage(code, amount); err == nil {
		d.QRImage = img
	}
	return d
}

func (a BankAccount) qrURL(code string, amount decimal.Decimal) string {
	if a.QRBaseURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("amount", amount.StringFixed(0))
	q.Set("addInfo", code)
	q.Set("accountName", a.AccountName)
	return fmt.Sprintf("%s/%s-%s-compact2.png?%s",
		strings.TrimRight(a.QRBaseURL, "/"),
		url.PathEscape(a.BankCode),
		url.PathEscape(a.AccountNumber),
		q.Encode())
}

// TransferPayload is the EPC-style credit transfer text encoded in the QR image
func (a BankAccount) TransferPayload(code string, amount decimal.Decimal) string {
	currency := a.Currency
	if currency == "" {
		currency = "VND"
	}
	return strings.Join([]string{
		"BCD",
		"002",
		"1",
		"SCT",
		a.BankCode,
		a.AccountName,
		a.AccountNumber,
		currency + amount.StringFixed(2),
		"",
		"",
		code,
	}, "\n")
}

// QRImage renders the transfer payload as a PNG data URL
func (a BankAccount) QRImage(code string, amount decimal.Decimal) (string, error) {
	png, err := qrcode.Encode(a.TransferPayload(code, amount), qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
