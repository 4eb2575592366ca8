package backend

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/session"
)

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinResponse struct {
	Token     string     `json:"token"`
	UsuarioID flexString `json:"usuarioId"`
	Roles     []struct {
		Rol struct {
			Name string `json:"name"`
		} `json:"rol"`
	} `json:"roles"`
}

type signupRequest struct {
	Nombre   string   `json:"nombre"`
	Apellido string   `json:"apellido"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (session.LoginResult, error) {
	var resp signinResponse
	if err := c.doJSON(ctx, "signin", http.MethodPost, "/auth/signin", signinRequest(creds), &resp); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) {
			return session.LoginResult{}, errors.Mark(err, domain.ErrUnauthorized)
		}
		return session.LoginResult{}, err
	}
	if resp.Token == "" {
		return session.LoginResult{}, errors.Wrap(domain.ErrUnauthorized, "signin returned no token")
	}
	roles := make([]domain.Role, 0, len(resp.Roles))
	for _, r := range resp.Roles {
		roles = append(roles, domain.Role(r.Rol.Name))
	}
	return session.LoginResult{Token: resp.Token, UserID: string(resp.UsuarioID), Roles: roles}, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, "logout", http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Register(ctx context.Context, reg domain.Registration) error {
	roles := make([]string, 0, len(reg.Roles))
	for _, r := range reg.Roles {
		roles = append(roles, string(r))
	}
	if len(roles) == 0 {
		roles = []string{string(domain.RolePassenger)}
	}
	req := signupRequest{
		Nombre:   reg.FirstName,
		Apellido: reg.LastName,
		Email:    reg.Email,
		Password: reg.Password,
		Roles:    roles,
	}
	return c.doJSON(ctx, "signup", http.MethodPost, "/auth/signup", req, nil)
}
