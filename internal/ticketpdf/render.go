// Package ticketpdf renders an issued ticket as a one-page PDF.
package ticketpdf

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/phpdave11/gofpdf"
	"github.com/robertarktes/busticket/internal/domain"
)

const dataURIPrefix = "data:image/"

// QRImage is a decoded ticket QR code.
type QRImage struct {
	Data []byte
	Type string // PNG, JPG or GIF
}

// IsDataURI reports whether a ticket QR is inlined rather than a URL.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, dataURIPrefix)
}

// DecodeDataURI decodes "data:image/png;base64,...".
func DecodeDataURI(s string) (QRImage, error) {
	if !IsDataURI(s) {
		return QRImage{}, errors.Wrap(domain.ErrInvalidInput, "qr code is not a data uri")
	}
	meta, payload, ok := strings.Cut(s[len(dataURIPrefix):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return QRImage{}, errors.Wrap(domain.ErrInvalidInput, "qr code data uri is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return QRImage{}, errors.Wrap(domain.ErrInvalidInput, "qr code base64: "+err.Error())
	}
	return QRImage{Data: data, Type: imageType(strings.TrimSuffix(meta, ";base64"))}, nil
}

func imageType(subtype string) string {
	switch strings.ToLower(subtype) {
	case "jpeg", "jpg":
		return "JPG"
	case "gif":
		return "GIF"
	}
	return "PNG"
}

// ImageTypeFromContentType maps an HTTP content type to a gofpdf image type.
func ImageTypeFromContentType(ct string) string {
	return imageType(strings.TrimPrefix(strings.SplitN(ct, ";", 2)[0], "image/"))
}

// Render builds the ticket PDF from an inline QR code. Tickets without a QR
// still render, with a note in place of the image.
func Render(t domain.Ticket, p domain.Profile) ([]byte, string, error) {
	var qr *QRImage
	if t.QRCode != "" {
		img, err := DecodeDataURI(t.QRCode)
		if err != nil {
			return nil, "", err
		}
		qr = &img
	}
	return RenderWithQR(t, p, qr)
}

// RenderWithQR builds the ticket PDF with an already fetched QR image.
func RenderWithQR(t domain.Ticket, p domain.Profile, qr *QRImage) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Ticket "+t.ID, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr("Información de Tu Boleto"), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	section(pdf, tr("Cliente"))
	line(pdf, tr, "Nombre", safe(p.FullName(), "-"))
	line(pdf, tr, "Email", safe(p.Email, "-"))
	pdf.Ln(4)

	section(pdf, tr("Boleto"))
	line(pdf, tr, "Boleto", safe(t.ID, "-"))
	line(pdf, tr, "Salida", safe(t.Origin, "-"))
	line(pdf, tr, "Llegada", safe(t.Destination, "-"))
	departure := "-"
	if !t.DepartureAt.IsZero() {
		departure = t.DepartureAt.Format("2006-01-02 15:04")
	}
	line(pdf, tr, "Hora de salida", departure)
	line(pdf, tr, "Total pagado", fmt.Sprintf("B/. %.2f", t.TotalPrice))
	pdf.Ln(8)

	if qr != nil && len(qr.Data) > 0 {
		name := "qr-" + t.ID
		pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: qr.Type}, bytes.NewReader(qr.Data))
		if pdf.Err() {
			return nil, "", errors.Wrap(pdf.Error(), "register qr image")
		}
		const size = 70.0
		pageW, _ := pdf.GetPageSize()
		pdf.ImageOptions(name, (pageW-size)/2, pdf.GetY(), size, size, true, gofpdf.ImageOptions{ImageType: qr.Type}, 0, "")
	} else {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 8, tr("Código QR no disponible"), "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", errors.Wrap(err, "write pdf")
	}
	return buf.Bytes(), "ticket_" + safeFilenamePart(t.ID) + ".pdf", nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 9, title)
	pdf.Ln(9)
}

func line(pdf *gofpdf.Fpdf, tr func(string) string, label, value string) {
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, tr(label+": "+value))
	pdf.Ln(7)
}

func safe(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
