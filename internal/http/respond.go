package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/backend"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/purchase"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Kind    string            `json:"kind,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	// Purchase is the state the purchase was left in, when a step failed.
	Purchase *purchaseJSON `json:"purchase,omitempty"`
}

type failureView struct {
	status  int
	message string
}

// Each failure kind is shown to the user differently.
var failureViews = map[purchase.Kind]failureView{
	purchase.KindRouteUnavailable:   {http.StatusUnprocessableEntity, "La ruta seleccionada ya no está disponible."},
	purchase.KindReservationFailed:  {http.StatusBadGateway, "No se pudo reservar el boleto. Intente de nuevo."},
	purchase.KindPaymentSetupFailed: {http.StatusBadGateway, "No se pudo iniciar el pago. Intente de nuevo."},
	purchase.KindCardDeclined:       {http.StatusPaymentRequired, "La tarjeta fue rechazada."},
	purchase.KindCardInputInvalid:   {http.StatusUnprocessableEntity, "Los datos de la tarjeta no son válidos."},
	purchase.KindCaptureFailed:      {http.StatusBadGateway, "El pago no pudo completarse."},
}

func failureMessage(kind purchase.Kind) string {
	return failureViews[kind].message
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrInvalidInput)
	}
	return nil
}

// writeError maps an error to its status code and user-facing body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= 500 {
		LoggerFrom(r.Context()).Error("request failed: ", err)
	} else {
		LoggerFrom(r.Context()).WithField("status", status).Debug("request rejected: ", err)
	}
	writeJSON(w, status, body)
}

func writePurchaseError(w http.ResponseWriter, r *http.Request, snap purchase.Snapshot, err error) {
	status, body := classify(err)
	pj := snapshotJSON(snap)
	body.Purchase = &pj
	if status >= 500 {
		LoggerFrom(r.Context()).Error("purchase request failed: ", err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	var f *purchase.Failure
	if errors.As(err, &f) {
		v, ok := failureViews[f.Kind]
		if !ok {
			v = failureView{http.StatusBadGateway, "La compra no pudo completarse."}
		}
		return v.status, errorBody{Error: "purchase_failed", Message: v.message, Kind: string(f.Kind), Code: f.Code}
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "Revise los datos ingresados.", Fields: verr.Fields}
	}

	switch {
	case errors.Is(err, purchase.ErrPaymentInProgress):
		return http.StatusConflict, errorBody{Error: "payment_in_progress", Message: "Ya hay un pago en curso para esta compra."}
	case errors.Is(err, purchase.ErrPurchaseExpired):
		return http.StatusGone, errorBody{Error: "purchase_expired", Message: "La compra expiró. Inicie una nueva compra."}
	case errors.Is(err, purchase.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Error: "invalid_state", Message: "La compra no admite esta operación en su estado actual."}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "Inicie sesión para continuar."}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden", Message: "No tiene permiso para esta operación."}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: "No encontrado."}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "Solicitud inválida."}
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSerializationFailure):
		return http.StatusConflict, errorBody{Error: "conflict", Message: "Conflicto, intente de nuevo."}
	}

	var serr *backend.StatusError
	if errors.As(err, &serr) {
		return http.StatusBadGateway, errorBody{Error: "backend_error", Message: "El servicio no está disponible. Intente más tarde."}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal", Message: "Error interno."}
}
