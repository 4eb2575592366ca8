package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/robertarktes/busticket/internal/domain"
)

type createTicketRequest struct {
	RutaID              string `json:"rutaId"`
	CantidadAdulto      int    `json:"cantidad_adulto"`
	CantidadNino        int    `json:"cantidad_nino"`
	CantidadTerceraEdad int    `json:"cantidad_tercera_edad"`
}

type createTicketResponse struct {
	Ticket struct {
		BoletoID flexString `json:"boletoId"`
	} `json:"ticket"`
}

type ticketDTO struct {
	ID         flexString `json:"id"`
	RutaID     flexString `json:"rutaId"`
	Salida     string     `json:"salida"`
	Llegada    string     `json:"llegada"`
	FechaHora  string     `json:"fecha_hora"`
	TotalPrice flexFloat  `json:"totalPrice"`
	QRCode     string     `json:"qrCode"`
}

func (t ticketDTO) toDomain() domain.Ticket {
	departure, _ := parseTimestamp(t.FechaHora)
	return domain.Ticket{
		ID:          string(t.ID),
		RouteID:     string(t.RutaID),
		Origin:      t.Salida,
		Destination: t.Llegada,
		DepartureAt: departure,
		TotalPrice:  float64(t.TotalPrice),
		QRCode:      t.QRCode,
	}
}

func (c *Client) CreateReservation(ctx context.Context, routeID string, adult, child, senior int) (domain.ReservedTicket, error) {
	req := createTicketRequest{
		RutaID:              routeID,
		CantidadAdulto:      adult,
		CantidadNino:        child,
		CantidadTerceraEdad: senior,
	}
	var resp createTicketResponse
	if err := c.doJSON(ctx, "create-ticket", http.MethodPost, "/ticket/create-ticket", req, &resp); err != nil {
		return domain.ReservedTicket{}, err
	}
	return domain.ReservedTicket{ID: string(resp.Ticket.BoletoID), RouteID: routeID}, nil
}

// TicketsByUser lists a user's issued tickets. The backend answers with a
// bare array; some deployments wrap it in {"data": [...]}.
func (c *Client) TicketsByUser(ctx context.Context, userID string) ([]domain.Ticket, error) {
	var raw flexList[ticketDTO]
	if err := c.doJSON(ctx, "get-ticket-by-user", http.MethodGet, "/ticket/get-ticket-by-user/"+url.PathEscape(userID), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.Ticket, 0, len(raw))
	for _, t := range raw {
		out = append(out, t.toDomain())
	}
	return out, nil
}
