package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/session"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL+"/api/v1/", 2*time.Second, observability.NewNopLogger())
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestClient_AttachesSessionToken(t *testing.T) {
	var got string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[]}`))
	}))

	ctx := session.NewContext(context.Background(), &session.Session{Token: "abc.def.ghi"})
	if _, err := c.ListRoutes(ctx); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer abc.def.ghi" {
		t.Errorf("expected bearer header, got %q", got)
	}

	if _, err := c.ListRoutes(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("expected no header without session, got %q", got)
	}
}

func TestClient_ListRoutesFiltersDeparted(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/routes/get-routes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[
			{"rutaId":1,"salida":"Panama","llegada":"David","fecha_hora":"2026-05-01T13:00:00Z","precio_adulto":"5.00","precio_nino":"3.00","precio_tercera_edad":"2.50","puerta":"A4"},
			{"rutaId":2,"salida":"Panama","llegada":"Colon","fecha_hora":"2026-05-01T12:00:00Z","precio_adulto":4,"precio_nino":2,"precio_tercera_edad":1},
			{"rutaId":3,"salida":"Panama","llegada":"Chitre","fecha_hora":"2026-04-30T09:00:00Z","precio_adulto":4,"precio_nino":2,"precio_tercera_edad":1},
			{"rutaId":4,"salida":"Panama","llegada":"Santiago","fecha_hora":"garbage","precio_adulto":4,"precio_nino":2,"precio_tercera_edad":1}
		]}`))
	}))

	routes, err := c.ListRoutes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected 1 upcoming route, got %d", len(routes))
	}
	r := routes[0]
	if r.ID != "1" || r.Gate != "A4" || r.Prices != (domain.Prices{Adult: 5, Child: 3, Senior: 2.5}) {
		t.Errorf("unexpected route %+v", r)
	}
}

func TestClient_FindRoutesQuery(t *testing.T) {
	var query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Path + "?" + r.URL.RawQuery
		w.Write([]byte(`{"data":[]}`))
	}))

	if _, err := c.FindRoutes(context.Background(), "Panama", "David"); err != nil {
		t.Fatal(err)
	}
	if query != "/api/v1/routes/find-routes?llegada=David&salida=Panama" {
		t.Errorf("unexpected request %s", query)
	}

	if _, err := c.FindRoutes(context.Background(), "", ""); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(query, "/api/v1/routes/get-routes") {
		t.Errorf("empty search should list all routes, got %s", query)
	}
}

func TestClient_GetOfferingNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/routes/get-route/404":
			http.Error(w, "no route", http.StatusNotFound)
		default:
			w.Write([]byte(`{"data":null}`))
		}
	}))

	_, err := c.GetOffering(context.Background(), "404")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for 404, got %v", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}

	_, err = c.GetOffering(context.Background(), "7")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for null data, got %v", err)
	}
}

func TestClient_PurchaseCalls(t *testing.T) {
	bodies := map[string]map[string]interface{}{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		bodies[r.URL.Path] = body

		switch r.URL.Path {
		case "/api/v1/ticket/create-ticket":
			w.Write([]byte(`{"ticket":{"boletoId":42}}`))
		case "/api/v1/payment/process":
			w.Write([]byte(`{"clientSecret":"pi_1_secret_x","compraId":"9"}`))
		case "/api/v1/payment/success":
			w.Write([]byte(`{"message":"Pago capturado"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	res, err := c.CreateReservation(ctx, "7", 2, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "42" {
		t.Errorf("expected boleto 42, got %s", res.ID)
	}
	ticket := bodies["/api/v1/ticket/create-ticket"]
	if ticket["rutaId"] != "7" || ticket["cantidad_adulto"] != 2.0 || ticket["cantidad_nino"] != 1.0 || ticket["cantidad_tercera_edad"] != 0.0 {
		t.Errorf("unexpected create-ticket body %v", ticket)
	}

	intent, err := c.CreateIntent(ctx, res.ID, "u-5")
	if err != nil {
		t.Fatal(err)
	}
	if intent.ClientSecret != "pi_1_secret_x" || intent.PurchaseID != "9" {
		t.Errorf("unexpected intent %+v", intent)
	}
	if b := bodies["/api/v1/payment/process"]; b["boletoId"] != "42" || b["userId"] != "u-5" {
		t.Errorf("unexpected process body %v", b)
	}

	msg, err := c.Capture(ctx, "pi_1", intent.PurchaseID)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "Pago capturado" {
		t.Errorf("unexpected message %q", msg)
	}
	if b := bodies["/api/v1/payment/success"]; b["paymentIntentId"] != "pi_1" || b["compraId"] != "9" {
		t.Errorf("unexpected success body %v", b)
	}
}

func TestClient_ServerErrorIsStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.CreateReservation(context.Background(), "1", 1, 0, 0)
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if serr.Code != 500 || serr.Body != "boom" {
		t.Errorf("unexpected status error %+v", serr)
	}
}

func TestClient_TicketsByUserAcceptsBothShapes(t *testing.T) {
	for name, payload := range map[string]string{
		"bare":      `[{"id":1,"salida":"A","llegada":"B","fecha_hora":"2026-05-02T08:00:00Z","totalPrice":"13.00","qrCode":"data:image/png;base64,AAAA"}]`,
		"enveloped": `{"data":[{"id":1,"salida":"A","llegada":"B","fecha_hora":"2026-05-02T08:00:00Z","totalPrice":13,"qrCode":"data:image/png;base64,AAAA"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(payload))
			}))
			tickets, err := c.TicketsByUser(context.Background(), "u-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(tickets) != 1 || tickets[0].ID != "1" || tickets[0].TotalPrice != 13 {
				t.Errorf("unexpected tickets %+v", tickets)
			}
		})
	}
}

func TestClient_ValidateQR(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			QRCode string `json:"qrCode"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		switch body.QRCode {
		case "good":
			w.Write([]byte(`{"message":"Boleto valido"}`))
		case "used":
			http.Error(w, "Boleto ya utilizado", http.StatusBadRequest)
		default:
			http.Error(w, "down", http.StatusBadGateway)
		}
	}))
	ctx := context.Background()

	check, err := c.ValidateQR(ctx, "good")
	if err != nil || !check.Valid {
		t.Errorf("expected valid, got %+v, %v", check, err)
	}
	check, err = c.ValidateQR(ctx, "used")
	if err != nil || check.Valid || check.Message != "Boleto ya utilizado" {
		t.Errorf("expected rejection, got %+v, %v", check, err)
	}
	if _, err = c.ValidateQR(ctx, "other"); err == nil {
		t.Error("expected error for 502")
	}
	if _, err = c.ValidateQR(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestClient_Login(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body signinRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "Secret.123" {
			http.Error(w, "bad credentials", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"token":"tok","usuarioId":17,"roles":[{"rol":{"name":"USUARIO"}}]}`))
	}))

	res, err := c.Login(context.Background(), domain.Credentials{Email: "a@b.co", Password: "Secret.123"})
	if err != nil {
		t.Fatal(err)
	}
	if res.UserID != "17" || res.Token != "tok" || len(res.Roles) != 1 || res.Roles[0] != domain.RolePassenger {
		t.Errorf("unexpected login result %+v", res)
	}

	_, err = c.Login(context.Background(), domain.Credentials{Email: "a@b.co", Password: "nope"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestClient_UpdateProfilePicture(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "profile.jpg" || string(data) != "jpegbytes" {
			t.Errorf("unexpected upload %s %q", hdr.Filename, data)
		}
		w.Write([]byte(`{"message":"ok"}`))
	}))

	if err := c.UpdateProfilePicture(context.Background(), "u-1", strings.NewReader("jpegbytes")); err != nil {
		t.Fatal(err)
	}
}
