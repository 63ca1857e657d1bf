package validator

import (
	"context"
	"strings"
)

// Registration is the self-service sign-up payload.
type Registration struct {
	Email      string
	Password   string
	GivenName  string
	FamilyName string
	Company    string
	Phone      string
	Role       string
}

// SelectableRoles lists the roles a visitor may pick at sign-up, in
// ascending privilege order. The first entry is the default.
var SelectableRoles = []string{"Trial", "Personal", "Empresa"}

// Registration validates every field and returns the normalized payload.
// All failures are reported together as [FieldErrors].
func (v *Validator) Registration(ctx context.Context, in Registration) (Registration, error) {
	errs := FieldErrors{}
	out := in

	email, err := v.Email(ctx, in.Email)
	errs.add("email", err)
	out.Email = email

	errs.add("password", v.Password(in.Password))

	given, err := v.Name(in.GivenName)
	errs.add("given_name", err)
	out.GivenName = given

	family, err := v.Name(in.FamilyName)
	errs.add("family_name", err)
	out.FamilyName = family

	company, err := v.Company(in.Company)
	errs.add("company", err)
	out.Company = company

	phone, err := v.Phone(in.Phone)
	errs.add("phone", err)
	out.Phone = phone

	role, err := selectableRole(in.Role)
	errs.add("role", err)
	out.Role = role

	if err := errs.orNil(); err != nil {
		return Registration{}, err
	}
	return out, nil
}

func selectableRole(role string) (string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return SelectableRoles[0], nil
	}
	for _, r := range SelectableRoles {
		if strings.EqualFold(r, role) {
			return r, nil
		}
	}
	return "", ErrRoleInvalid
}

// Login validates login input. Only presence and email shape are checked;
// password policy is not applied so legacy passwords can still sign in.
func (v *Validator) Login(email, password string) (string, error) {
	errs := FieldErrors{}

	email, err := v.EmailShape(email)
	errs.add("email", err)
	if password == "" {
		errs.add("password", ErrPasswordRequired)
	}

	if err := errs.orNil(); err != nil {
		return "", err
	}
	return email, nil
}

// EmailShape lower-cases email and checks presence, length and syntax only.
// It is used where blocklists and DNS must not reveal anything, such as
// reset requests.
func (v *Validator) EmailShape(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	switch {
	case email == "":
		return "", ErrEmailRequired
	case len(email) > maxEmailLength:
		return "", ErrEmailTooLong
	case !emailPattern.MatchString(email):
		return "", ErrEmailInvalid
	}
	return email, nil
}

// NewPassword validates a replacement password as a single-field FieldErrors.
func (v *Validator) NewPassword(field, password string) error {
	if err := v.Password(password); err != nil {
		return FieldErrors{field: err.Error()}
	}
	return nil
}
