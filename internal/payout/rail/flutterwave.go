package rail

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const transfersPath = "/v3/transfers"

// FlutterwaveConfig configures the transfers client.
type FlutterwaveConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Flutterwave submits bank transfers through the Flutterwave v3 API.
type Flutterwave struct {
	client *resty.Client
}

func NewFlutterwave(cfg FlutterwaveConfig) *Flutterwave {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Flutterwave{client: client}
}

func (f *Flutterwave) Name() string { return "flutterwave" }

type transferBody struct {
	AccountBank     string      `json:"account_bank"`
	AccountNumber   string      `json:"account_number"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	DebitCurrency   string      `json:"debit_currency"`
	Narration       string      `json:"narration"`
	Reference       string      `json:"reference"`
	BeneficiaryName string      `json:"beneficiary_name,omitempty"`
}

type transferResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// MajorUnits converts minor units to the decimal amount Flutterwave expects.
func MajorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// MinorUnits converts a provider decimal amount to minor units, rounding half
// away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (f *Flutterwave) Transfer(ctx context.Context, t Transfer) (*Receipt, error) {
	var out transferResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(transferBody{
			AccountBank:     t.BankCode,
			AccountNumber:   t.AccountNumber,
			Amount:          json.Number(MajorUnits(t.AmountCents).StringFixed(2)),
			Currency:        t.Currency,
			DebitCurrency:   t.Currency,
			Narration:       t.Narration,
			Reference:       t.Reference,
			BeneficiaryName: t.AccountName,
		}).
		SetResult(&out).
		SetError(&out).
		Post(transfersPath)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return nil, &ProviderError{Kind: KindRateLimited, Message: "flutterwave rate limited the transfer"}
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return nil, &ProviderError{Kind: KindTimeout, Message: "flutterwave timed out"}
	case code >= 500:
		return nil, &ProviderError{Kind: KindProviderOutage, Message: "flutterwave returned " + strconv.Itoa(code)}
	case code >= 400:
		return nil, &ProviderError{Kind: KindRejected, Message: rejectionMessage(out.Message, code)}
	}
	if out.Status != "success" || out.Data.ID == 0 {
		return nil, &ProviderError{Kind: KindRejected, Message: rejectionMessage(out.Message, resp.StatusCode())}
	}
	return &Receipt{ExternalID: strconv.FormatInt(out.Data.ID, 10), Status: out.Data.Status}, nil
}

func rejectionMessage(msg string, code int) string {
	if msg == "" {
		return "flutterwave rejected the transfer with status " + strconv.Itoa(code)
	}
	return msg
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{Kind: KindTimeout, Message: "flutterwave request timed out", Err: err}
	}
	return &ProviderError{Kind: KindProviderOutage, Message: "flutterwave unreachable", Err: err}
}
