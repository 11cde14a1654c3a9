package transactions

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bank-ledger/bank_ledger/internal/ledger"
)

// DecimalString accepts an amount written either as a JSON string ("100.23")
// or a bare JSON number (100.23) and keeps the caller's text verbatim.
type DecimalString string

// UnmarshalJSON implements json.Unmarshaler.
func (d *DecimalString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = DecimalString(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a decimal string or number: %w", err)
	}
	*d = DecimalString(n.String())
	return nil
}

// AmountDTO is the transactionAmount / balance object on the wire.
type AmountDTO struct {
	Amount        DecimalString `json:"amount"`
	Currency      string        `json:"currency"`
	DebitOrCredit string        `json:"debitOrCredit"`
}

// TransactionRequest is the body of PUT /authorization and PUT /load.
type TransactionRequest struct {
	UserID            string    `json:"userId"`
	MessageID         string    `json:"messageId"`
	TransactionAmount AmountDTO `json:"transactionAmount"`
}

// AuthorizationResponse is returned for an evaluated authorization.
type AuthorizationResponse struct {
	UserID       string    `json:"userId"`
	MessageID    string    `json:"messageId"`
	ResponseCode string    `json:"responseCode"`
	Balance      AmountDTO `json:"balance"`
}

// LoadResponse is returned for an applied load.
type LoadResponse struct {
	UserID    string    `json:"userId"`
	MessageID string    `json:"messageId"`
	Balance   AmountDTO `json:"balance"`
}

// validate describes the first problem with the request shape, or returns "".
// Whether the direction suits the endpoint is left to the ledger.
func (r TransactionRequest) validate() string {
	switch {
	case r.UserID == "":
		return "userId is required"
	case r.MessageID == "":
		return "messageId is required"
	case r.TransactionAmount.Amount == "":
		return "transactionAmount.amount is required"
	case r.TransactionAmount.Currency == "":
		return "transactionAmount.currency is required"
	case r.TransactionAmount.DebitOrCredit == "":
		return "transactionAmount.debitOrCredit is required"
	}
	switch ledger.Direction(r.TransactionAmount.DebitOrCredit) {
	case ledger.DirectionDebit, ledger.DirectionCredit:
		return ""
	}
	return "transactionAmount.debitOrCredit must be DEBIT or CREDIT"
}

func (r TransactionRequest) toLedger() ledger.Request {
	return ledger.Request{
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Amount: ledger.Amount{
			Amount:    string(r.TransactionAmount.Amount),
			Currency:  r.TransactionAmount.Currency,
			Direction: ledger.Direction(r.TransactionAmount.DebitOrCredit),
		},
	}
}

func toAmountDTO(a ledger.Amount) AmountDTO {
	return AmountDTO{
		Amount:        DecimalString(a.Amount),
		Currency:      a.Currency,
		DebitOrCredit: string(a.Direction),
	}
}
