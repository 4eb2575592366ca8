package backend

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/busticket/internal/domain"
)

type profileDTO struct {
	Nombre         string `json:"nombre"`
	Apellido       string `json:"apellido"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profilePicture"`
}

type updateUserRequest struct {
	Nombre   string `json:"nombre,omitempty"`
	Apellido string `json:"apellido,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

func (d profileDTO) toDomain(userID string) domain.Profile {
	return domain.Profile{
		UserID:         userID,
		FirstName:      d.Nombre,
		LastName:       d.Apellido,
		Email:          d.Email,
		ProfilePicture: d.ProfilePicture,
	}
}

func (c *Client) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var resp envelope[*profileDTO]
	if err := c.doJSON(ctx, "get-user", http.MethodGet, "/user/get-user/"+url.PathEscape(userID), nil, &resp); err != nil {
		return domain.Profile{}, err
	}
	if resp.Data == nil {
		return domain.Profile{}, errors.Wrapf(domain.ErrNotFound, "user %s", userID)
	}
	return resp.Data.toDomain(userID), nil
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, upd domain.ProfileUpdate) (domain.Profile, error) {
	req := updateUserRequest{
		Nombre:   upd.FirstName,
		Apellido: upd.LastName,
		Email:    upd.Email,
		Password: upd.Password,
	}
	var resp envelope[*profileDTO]
	if err := c.doJSON(ctx, "update-user", http.MethodPost, "/user/update-user/"+url.PathEscape(userID), req, &resp); err != nil {
		return domain.Profile{}, err
	}
	if resp.Data == nil {
		return c.GetProfile(ctx, userID)
	}
	return resp.Data.toDomain(userID), nil
}

// UpdateProfilePicture uploads a JPEG as multipart field "file".
func (c *Client) UpdateProfilePicture(ctx context.Context, userID string, image io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "profile.jpg")
	if err != nil {
		return errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, image); err != nil {
		return errors.Wrap(err, "copy image")
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, "close multipart")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/update-profile-picture/"+url.PathEscape(userID), &buf)
	if err != nil {
		return errors.Wrap(err, "build update-profile-picture request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, "update-profile-picture", nil)
}
