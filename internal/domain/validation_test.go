package domain

import (
	"errors"
	"testing"
)

func validRegistration() Registration {
	return Registration{
		FirstName:       "Ana",
		LastName:        "Pérez",
		Email:           "ana@example.com",
		Password:        "Secreto.1",
		ConfirmPassword: "Secreto.1",
		Roles:           []Role{RolePassenger},
	}
}

func TestRegistration_Validate(t *testing.T) {
	if err := validRegistration().Validate(); err != nil {
		t.Fatalf("expected valid registration, got %v", err)
	}

	cases := map[string]struct {
		mutate func(*Registration)
		field  string
	}{
		"digit in name":      {func(r *Registration) { r.FirstName = "Ana2" }, "first_name"},
		"space in last name": {func(r *Registration) { r.LastName = "de Leon" }, "last_name"},
		"bad email":          {func(r *Registration) { r.Email = "ana@example" }, "email"},
		"short password":     {func(r *Registration) { r.Password, r.ConfirmPassword = "Ab1.", "Ab1." }, "password"},
		"no special":         {func(r *Registration) { r.Password, r.ConfirmPassword = "Secreto11", "Secreto11" }, "password"},
		"no uppercase":       {func(r *Registration) { r.Password, r.ConfirmPassword = "secreto.1", "secreto.1" }, "password"},
		"no digit":           {func(r *Registration) { r.Password, r.ConfirmPassword = "Secreto./", "Secreto./" }, "password"},
		"mismatch":           {func(r *Registration) { r.ConfirmPassword = "Secreto.2" }, "confirm_password"},
		"unknown role":       {func(r *Registration) { r.Roles = []Role{"ADMIN"} }, "roles"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			reg := validRegistration()
			c.mutate(&reg)
			err := reg.Validate()
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if _, ok := verr.Fields[c.field]; !ok {
				t.Errorf("expected %s to be rejected, got %v", c.field, verr.Fields)
			}
		})
	}
}

func TestProfileUpdate_Validate(t *testing.T) {
	upd := ProfileUpdate{FirstName: "Ana", LastName: "Perez"}
	if err := upd.Validate(); err != nil {
		t.Errorf("password should be optional: %v", err)
	}
	upd.Password = "weak"
	if err := upd.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected weak password to be rejected, got %v", err)
	}
	upd.Password = "Fuerte-99"
	if err := upd.Validate(); err != nil {
		t.Errorf("expected strong password to pass, got %v", err)
	}
}
