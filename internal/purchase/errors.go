package purchase

import "github.com/cockroachdb/errors"

// Kind categorises a terminal pipeline failure.
type Kind string

const (
	KindRouteUnavailable   Kind = "ROUTE_UNAVAILABLE"
	KindReservationFailed  Kind = "RESERVATION_FAILED"
	KindPaymentSetupFailed Kind = "PAYMENT_SETUP_FAILED"
	KindCardDeclined       Kind = "CARD_DECLINED"
	KindCardInputInvalid   Kind = "CARD_INPUT_INVALID"
	KindCaptureFailed      Kind = "CAPTURE_FAILED"
)

var (
	ErrRouteUnavailable   = errors.New("route unavailable")
	ErrReservationFailed  = errors.New("reservation failed")
	ErrPaymentSetupFailed = errors.New("payment setup failed")
	ErrCardDeclined       = errors.New("card declined")
	ErrCardInputInvalid   = errors.New("card input invalid")
	ErrCaptureFailed      = errors.New("capture failed")

	// ErrPaymentInProgress rejects a Pay call while another one is outstanding.
	ErrPaymentInProgress = errors.New("payment already in progress")
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrPurchaseExpired rejects Pay once the purchase outlived its TTL.
	ErrPurchaseExpired = errors.New("purchase expired")
)

var kindSentinels = map[Kind]error{
	KindRouteUnavailable:   ErrRouteUnavailable,
	KindReservationFailed:  ErrReservationFailed,
	KindPaymentSetupFailed: ErrPaymentSetupFailed,
	KindCardDeclined:       ErrCardDeclined,
	KindCardInputInvalid:   ErrCardInputInvalid,
	KindCaptureFailed:      ErrCaptureFailed,
}

// Failure is the error every failed step resolves with. Code carries the
// provider decline code when there is one.
type Failure struct {
	Kind Kind
	Code string
	Err  error
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Code != "" {
		msg += " (" + f.Code + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool {
	return kindSentinels[f.Kind] == target
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// CardRejection is implemented by card-confirmer errors that know whether the
// provider refused the card or the input itself.
type CardRejection interface {
	error
	DeclineCode() string
	InvalidInput() bool
}
