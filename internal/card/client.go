// Package card confirms payment intents with the card payment provider.
package card

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
)

const statusSucceeded = "succeeded"

// Error is a provider rejection. Type follows the provider's error
// categories: card_error, validation_error, invalid_request_error, api_error.
type Error struct {
	Type    string
	Code    string
	Decline string
	Message string
}

func (e *Error) Error() string {
	msg := "card " + e.Type
	if code := e.DeclineCode(); code != "" {
		msg += " (" + code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) DeclineCode() string {
	if e.Decline != "" {
		return e.Decline
	}
	return e.Code
}

// InvalidInput is true when the provider refused the submitted details
// rather than the card itself.
func (e *Error) InvalidInput() bool {
	return e.Type == "validation_error" || e.Type == "invalid_request_error"
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  observability.Logger
}

func New(baseURL, apiKey string, timeout time.Duration, logger observability.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type intentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// Confirm forwards the client secret and the tokenised payment method. The
// intent id is the part of the secret before "_secret_".
func (c *Client) Confirm(ctx context.Context, clientSecret string, input domain.CardInput) (domain.PaymentOutcome, error) {
	if input.PaymentMethod == "" {
		return domain.PaymentOutcome{}, &Error{Type: "validation_error", Code: "payment_method_missing", Message: "no payment method"}
	}
	intentID, ok := IntentID(clientSecret)
	if !ok {
		return domain.PaymentOutcome{}, &Error{Type: "invalid_request_error", Code: "client_secret_malformed", Message: "malformed client secret"}
	}

	form := url.Values{}
	form.Set("client_secret", clientSecret)
	form.Set("payment_method", input.PaymentMethod)
	if input.BillingEmail != "" {
		form.Set("receipt_email", input.BillingEmail)
	}

	endpoint := c.baseURL + "/v1/payment_intents/" + url.PathEscape(intentID) + "/confirm"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.PaymentOutcome{}, errors.Wrap(err, "build confirm request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.BackendCallDuration.WithLabelValues("card-confirm", "error").Observe(time.Since(start).Seconds())
		return domain.PaymentOutcome{}, errors.Wrap(err, "call card provider")
	}
	defer resp.Body.Close()
	observability.BackendCallDuration.WithLabelValues("card-confirm", strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.PaymentOutcome{}, c.decodeError(resp)
	}

	var intent intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return domain.PaymentOutcome{}, errors.Wrap(err, "decode confirm response")
	}
	if intent.Status != statusSucceeded {
		return domain.PaymentOutcome{Succeeded: false, PaymentID: intent.ID}, &Error{
			Type:    "card_error",
			Code:    intent.Status,
			Message: "payment intent not succeeded",
		}
	}
	if intent.ID == "" {
		intent.ID = intentID
	}
	return domain.PaymentOutcome{Succeeded: true, PaymentID: intent.ID}, nil
}

func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Type == "" {
		c.logger.WithField("status", resp.StatusCode).Warn("card provider returned an unparseable error")
		return errors.Newf("card provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return &Error{
		Type:    body.Error.Type,
		Code:    body.Error.Code,
		Decline: body.Error.DeclineCode,
		Message: body.Error.Message,
	}
}

// IntentID extracts the payment intent id from a client secret of the form
// "<id>_secret_<nonce>".
func IntentID(clientSecret string) (string, bool) {
	i := strings.Index(clientSecret, "_secret_")
	if i <= 0 {
		return "", false
	}
	return clientSecret[:i], true
}
