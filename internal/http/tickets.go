package http

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/session"
	"github.com/robertarktes/busticket/internal/ticketpdf"
	"golang.org/x/sync/errgroup"
)

const maxQRBytes = 2 << 20

func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	tickets, err := h.backend.TicketsByUser(r.Context(), s.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ticketJSON, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// TicketPDF renders one of the session user's tickets with its QR code. The
// ticket and the holder's profile are fetched concurrently.
func (h *Handlers) TicketPDF(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	ticketID := chi.URLParam(r, "id")

	var (
		ticket  domain.Ticket
		profile domain.Profile
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		ticket, err = h.ownTicket(ctx, s.UserID, ticketID)
		return err
	})
	g.Go(func() error {
		p, err := h.backend.GetProfile(ctx, s.UserID)
		if err != nil {
			LoggerFrom(ctx).Warn("profile for ticket pdf: ", err)
			p = s.Profile
		}
		profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		data []byte
		name string
		err  error
	)
	if ticket.QRCode == "" || ticketpdf.IsDataURI(ticket.QRCode) {
		data, name, err = ticketpdf.Render(ticket, profile)
	} else {
		qr, qerr := h.fetchQR(r.Context(), ticket.QRCode)
		if qerr != nil {
			LoggerFrom(r.Context()).WithField("ticket_id", ticket.ID).Warn("qr image unavailable: ", qerr)
			qr = nil
		}
		data, name, err = ticketpdf.RenderWithQR(ticket, profile, qr)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ownTicket looks the ticket up in the user's own history, so a foreign id
// is not found.
func (h *Handlers) ownTicket(ctx context.Context, userID, ticketID string) (domain.Ticket, error) {
	tickets, err := h.backend.TicketsByUser(ctx, userID)
	if err != nil {
		return domain.Ticket{}, err
	}
	for _, t := range tickets {
		if t.ID == ticketID {
			return t, nil
		}
	}
	return domain.Ticket{}, errors.Wrapf(domain.ErrNotFound, "ticket %s", ticketID)
}

func (h *Handlers) fetchQR(ctx context.Context, url string) (*ticketpdf.QRImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build qr request")
	}
	resp, err := h.qrClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch qr")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("fetch qr: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxQRBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read qr")
	}
	return &ticketpdf.QRImage{Data: data, Type: ticketpdf.ImageTypeFromContentType(resp.Header.Get("Content-Type"))}, nil
}

type boardingRequest struct {
	QRCode string `json:"qr_code"`
}

// ValidateBoarding is used by drivers scanning a passenger's ticket.
func (h *Handlers) ValidateBoarding(w http.ResponseWriter, r *http.Request) {
	var req boardingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	check, err := h.backend.ValidateQR(r.Context(), req.QRCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBoardingJSON(check))
}
