package backend

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
)

type createPaymentRequest struct {
	BoletoID string `json:"boletoId"`
	UserID   string `json:"userId"`
}

type createPaymentResponse struct {
	ClientSecret string     `json:"clientSecret"`
	CompraID     flexString `json:"compraId"`
}

type capturePaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	CompraID        string `json:"compraId"`
}

type messageResponse struct {
	Message string `json:"message"`
	Valid   *bool  `json:"valid,omitempty"`
}

// BoardingCheck is the backend's verdict on a scanned ticket QR code.
type BoardingCheck struct {
	Valid   bool
	Message string
}

func (c *Client) CreateIntent(ctx context.Context, reservationID, userID string) (domain.PaymentIntent, error) {
	var resp createPaymentResponse
	req := createPaymentRequest{BoletoID: reservationID, UserID: userID}
	if err := c.doJSON(ctx, "payment-process", http.MethodPost, "/payment/process", req, &resp); err != nil {
		return domain.PaymentIntent{}, err
	}
	return domain.PaymentIntent{ClientSecret: resp.ClientSecret, PurchaseID: string(resp.CompraID)}, nil
}

func (c *Client) Capture(ctx context.Context, paymentID, purchaseID string) (string, error) {
	var resp messageResponse
	req := capturePaymentRequest{PaymentIntentID: paymentID, CompraID: purchaseID}
	if err := c.doJSON(ctx, "payment-success", http.MethodPost, "/payment/success", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ValidateQR asks the backend whether a scanned code is a boardable ticket.
// A 4xx answer is a negative verdict, not an error.
func (c *Client) ValidateQR(ctx context.Context, code string) (BoardingCheck, error) {
	if code == "" {
		return BoardingCheck{}, errors.Wrap(domain.ErrInvalidInput, "empty qr code")
	}
	var resp messageResponse
	err := c.doJSON(ctx, "validate-qr", http.MethodPost, "/payment/validate-qr", map[string]string{"qrCode": code}, &resp)
	var serr *StatusError
	if errors.As(err, &serr) && serr.Code >= 400 && serr.Code < 500 && serr.Code != http.StatusUnauthorized {
		return BoardingCheck{Valid: false, Message: serr.Body}, nil
	}
	if err != nil {
		return BoardingCheck{}, err
	}
	valid := true
	if resp.Valid != nil {
		valid = *resp.Valid
	}
	return BoardingCheck{Valid: valid, Message: resp.Message}, nil
}
