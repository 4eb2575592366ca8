package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
)

type routeDTO struct {
	RutaID            flexString `json:"rutaId"`
	Salida            string     `json:"salida"`
	Llegada           string     `json:"llegada"`
	FechaHora         string     `json:"fecha_hora"`
	PrecioAdulto      flexFloat  `json:"precio_adulto"`
	PrecioNino        flexFloat  `json:"precio_nino"`
	PrecioTerceraEdad flexFloat  `json:"precio_tercera_edad"`
	Puerta            flexString `json:"puerta"`
}

func (r routeDTO) toDomain() (domain.RouteOffering, error) {
	departure, err := parseTimestamp(r.FechaHora)
	if err != nil {
		return domain.RouteOffering{}, errors.Wrapf(err, "route %s", r.RutaID)
	}
	return domain.RouteOffering{
		ID:          string(r.RutaID),
		Origin:      r.Salida,
		Destination: r.Llegada,
		DepartureAt: departure,
		Prices: domain.Prices{
			Adult:  float64(r.PrecioAdulto),
			Child:  float64(r.PrecioNino),
			Senior: float64(r.PrecioTerceraEdad),
		},
		Gate: string(r.Puerta),
	}, nil
}

// GetOffering returns the route as the backend has it, departed or not; the
// purchase pipeline decides availability.
func (c *Client) GetOffering(ctx context.Context, routeID string) (domain.RouteOffering, error) {
	var resp envelope[*routeDTO]
	if err := c.doJSON(ctx, "get-route", http.MethodGet, "/routes/get-route/"+url.PathEscape(routeID), nil, &resp); err != nil {
		return domain.RouteOffering{}, err
	}
	if resp.Data == nil {
		return domain.RouteOffering{}, errors.Wrapf(domain.ErrNotFound, "route %s", routeID)
	}
	return resp.Data.toDomain()
}

// ListRoutes returns every route that has not departed yet.
func (c *Client) ListRoutes(ctx context.Context) ([]domain.RouteOffering, error) {
	var resp envelope[[]routeDTO]
	if err := c.doJSON(ctx, "get-routes", http.MethodGet, "/routes/get-routes", nil, &resp); err != nil {
		return nil, err
	}
	return c.upcoming(resp.Data), nil
}

// FindRoutes searches by origin and destination label. Both empty lists all.
func (c *Client) FindRoutes(ctx context.Context, origin, destination string) ([]domain.RouteOffering, error) {
	if origin == "" && destination == "" {
		return c.ListRoutes(ctx)
	}
	q := url.Values{}
	q.Set("salida", origin)
	q.Set("llegada", destination)

	var resp envelope[[]routeDTO]
	if err := c.doJSON(ctx, "find-routes", http.MethodGet, "/routes/find-routes?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return c.upcoming(resp.Data), nil
}

func (c *Client) upcoming(dtos []routeDTO) []domain.RouteOffering {
	now := c.now()
	out := make([]domain.RouteOffering, 0, len(dtos))
	for _, dto := range dtos {
		r, err := dto.toDomain()
		if err != nil {
			c.logger.WithField("route_id", string(dto.RutaID)).Warn("skipping route: ", err)
			continue
		}
		if r.AvailableAt(now) {
			out = append(out, r)
		}
	}
	return out
}
