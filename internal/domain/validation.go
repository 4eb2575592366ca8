package domain

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const passwordSpecials = "!@#$%^&*.-/"

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// ValidationError lists the user-facing message for every rejected field.
// It matches ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

func (r Registration) Validate() error {
	errs := fieldErrors{}
	checkName(errs, "first_name", r.FirstName, "No utilizar caracteres especiales en el nombre.")
	checkName(errs, "last_name", r.LastName, "No utilizar caracteres especiales en el apellido.")
	if !emailPattern.MatchString(r.Email) {
		errs.add("email", "El correo no tiene un formato válido.")
	}
	checkPassword(errs, r.Password)
	if r.ConfirmPassword != "" && r.ConfirmPassword != r.Password {
		errs.add("confirm_password", "Las contraseñas no coinciden.")
	}
	for _, role := range r.Roles {
		if role != RolePassenger && role != RoleDriver {
			errs.add("roles", "Rol desconocido: "+string(role))
		}
	}
	return errs.err()
}

// Validate checks a profile edit. The password is optional; when present it
// follows the registration rules.
func (u ProfileUpdate) Validate() error {
	errs := fieldErrors{}
	checkName(errs, "first_name", u.FirstName, "No utilizar caracteres especiales en el nombre.")
	checkName(errs, "last_name", u.LastName, "No utilizar caracteres especiales en el apellido.")
	if u.Email != "" && !emailPattern.MatchString(u.Email) {
		errs.add("email", "El correo no tiene un formato válido.")
	}
	if u.Password != "" {
		checkPassword(errs, u.Password)
	}
	return errs.err()
}

func checkName(errs fieldErrors, field, v, msg string) {
	if v == "" {
		errs.add(field, msg)
		return
	}
	for _, r := range v {
		if !unicode.IsLetter(r) {
			errs.add(field, msg)
			return
		}
	}
}

func checkPassword(errs fieldErrors, pw string) {
	if len([]rune(pw)) < 8 {
		errs.add("password", "La contraseña debe tener al menos 8 caracteres.")
		return
	}
	var upper, special, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !upper || !special || !digit {
		errs.add("password", "La contraseña debe contener al menos una mayúscula, un carácter especial y un número.")
	}
}
