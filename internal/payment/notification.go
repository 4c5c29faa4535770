package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-service/internal/apperr"

	"github.com/shopspring/decimal"
)

// Direction of a reported bank movement
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Notification is a provider-neutral view of one bank movement
type Notification struct {
	Provider    string
	ProviderRef string
	Narration   string
	Amount      decimal.Decimal
	Direction   Direction
	Raw         json.RawMessage
}

// sepayPayload is the webhook body posted by SePay-style bank aggregators
type sepayPayload struct {
	ID              json.Number     `json:"id"`
	Gateway         string          `json:"gateway"`
	TransactionDate string          `json:"transactionDate"`
	Content         string          `json:"content"`
	Description     string          `json:"description"`
	TransferType    string          `json:"transferType"`
	TransferAmount  decimal.Decimal `json:"transferAmount"`
	ReferenceCode   string          `json:"referenceCode"`
}

// ParseNotification decodes a SePay-style webhook body. Narration is
// content, falling back to description; the raw body is kept for audit.
func ParseNotification(provider string, raw []byte) (Notification, error) {
	var p sepayPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return Notification{}, apperr.Validation("malformed notification: %v", err)
	}
	if dec.More() {
		return Notification{}, apperr.Validation("malformed notification: trailing data")
	}

	narration := strings.TrimSpace(p.Content)
	if narration == "" {
		narration = strings.TrimSpace(p.Description)
	}

	ref := strings.TrimSpace(p.ID.String())
	if ref == "" {
		ref = strings.TrimSpace(p.ReferenceCode)
	}
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(p.Gateway))
	}

	dir := DirectionIn
	if strings.EqualFold(strings.TrimSpace(p.TransferType), string(DirectionOut)) {
		dir = DirectionOut
	}

	return Notification{
		Provider:    provider,
		ProviderRef: ref,
		Narration:   narration,
		Amount:      p.TransferAmount.Round(2),
		Direction:   dir,
		Raw:         json.RawMessage(append([]byte(nil), raw...)),
	}, nil
}

// IdempotencyKey identifies a notification across provider retries, "" if it carries no reference
func (n Notification) IdempotencyKey() string {
	if n.ProviderRef == "" {
		return ""
	}
	return fmt.Sprintf("payment:%s:%s", n.Provider, n.ProviderRef)
}
