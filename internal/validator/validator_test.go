package validator

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mx    map[string][]*net.MX
	hosts map[string][]string
	err   error
}

func (f fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if f.err != nil {
		return nil, f.err
	}
	if mx, ok := f.mx[name]; ok {
		return mx, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (f fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if h, ok := f.hosts[host]; ok {
		return h, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func newTestValidator() *Validator {
	return New(DefaultConfig(), nil)
}

func TestEmailNormalizesAndValidates(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	got, err := v.Email(ctx, "  Ana.Silva@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "ana.silva@example.com", got)

	_, err = v.Email(ctx, "")
	assert.ErrorIs(t, err, ErrEmailRequired)

	_, err = v.Email(ctx, "not-an-email")
	assert.ErrorIs(t, err, ErrEmailInvalid)

	_, err = v.Email(ctx, strings.Repeat("a", 250)+"@x.com")
	assert.ErrorIs(t, err, ErrEmailTooLong)

	_, err = v.Email(ctx, "bot@Mailinator.com")
	assert.ErrorIs(t, err, ErrEmailDomainBlocked)
}

func TestEmailDomainCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckMailDomain = true
	ctx := context.Background()

	v := New(cfg, fakeResolver{
		mx:    map[string][]*net.MX{"mx.example": {{Host: "mail.mx.example.", Pref: 10}}},
		hosts: map[string][]string{"a.example": {"192.0.2.1"}},
	})

	_, err := v.Email(ctx, "user@mx.example")
	require.NoError(t, err)

	_, err = v.Email(ctx, "user@a.example")
	require.NoError(t, err)

	_, err = v.Email(ctx, "user@nowhere.example")
	assert.ErrorIs(t, err, ErrEmailDomainNoMail)

	flaky := New(cfg, fakeResolver{err: errors.New("i/o timeout")})
	_, err = flaky.Email(ctx, "user@nowhere.example")
	assert.NoError(t, err, "resolver failures must not reject addresses")
}

func TestPasswordPolicy(t *testing.T) {
	v := newTestValidator()

	cases := []struct {
		password string
		want     error
	}{
		{"", ErrPasswordRequired},
		{"Ab1", ErrPasswordTooShort},
		{strings.Repeat("a1", 65), ErrPasswordTooLong},
		{"onlyletters", ErrPasswordOnlyLetters},
		{"1234567812", ErrPasswordOnlyDigits},
		{"Password123", ErrPasswordCommon},
		{"myqwerty99", ErrPasswordCommon},
		{"Tr0ub4dor&3", nil},
		{"correct horse 9", nil},
	}

	for _, tc := range cases {
		err := v.Password(tc.password)
		if tc.want == nil {
			assert.NoError(t, err, tc.password)
			continue
		}
		assert.ErrorIs(t, err, tc.want, tc.password)
	}
}

func TestPasswordMixedClasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireMixedClasses = true
	v := New(cfg, nil)

	assert.ErrorIs(t, v.Password("lower-case-9"), ErrPasswordComplexity)
	assert.NoError(t, v.Password("Mixed-Case-9"))
}

func TestNameCompanyPhone(t *testing.T) {
	v := newTestValidator()

	name, err := v.Name("  José ")
	require.NoError(t, err)
	assert.Equal(t, "José", name)

	_, err = v.Name("O'Connor-Smith Jr.")
	assert.NoError(t, err)

	_, err = v.Name("A")
	assert.ErrorIs(t, err, ErrNameLength)

	_, err = v.Name("R2D2")
	assert.ErrorIs(t, err, ErrNameCharacters)

	_, err = v.Name("<script>")
	assert.ErrorIs(t, err, ErrNameCharacters)

	company, err := v.Company("Mapas & Cía. (Norte), 2")
	require.NoError(t, err)
	assert.Equal(t, "Mapas & Cía. (Norte), 2", company)

	_, err = v.Company("Evil<Corp>")
	assert.ErrorIs(t, err, ErrCompanyInvalid)

	_, err = v.Phone("+34 (91) 123-45-67")
	assert.NoError(t, err)

	_, err = v.Phone("call me")
	assert.ErrorIs(t, err, ErrPhoneInvalid)

	empty, err := v.Phone("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestToken(t *testing.T) {
	v := newTestValidator()

	good := strings.Repeat("AB", 32)
	got, err := v.Token(good)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(good), got)

	for _, bad := range []string{"", "abc", strings.Repeat("g", 64), strings.Repeat("a", 65)} {
		_, err := v.Token(bad)
		assert.ErrorIs(t, err, ErrTokenInvalid, bad)
	}
}

func TestRegistrationCollectsAllFieldErrors(t *testing.T) {
	v := newTestValidator()

	_, err := v.Registration(context.Background(), Registration{
		Email:      "bad",
		Password:   "tiny1",
		GivenName:  "X",
		FamilyName: "Valid",
		Role:       "Administrator",
	})
	require.Error(t, err)

	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
	assert.Contains(t, fields, "given_name")
	assert.Contains(t, fields, "role")
	assert.NotContains(t, fields, "family_name")
	assert.NotContains(t, err.Error(), "tiny1", "password must not be echoed")
}

func TestRegistrationDefaultsRole(t *testing.T) {
	v := newTestValidator()

	out, err := v.Registration(context.Background(), Registration{
		Email:      "New.User@Example.com",
		Password:   "Sup3r-Secret",
		GivenName:  "Ana",
		FamilyName: "Silva",
	})
	require.NoError(t, err)
	assert.Equal(t, "new.user@example.com", out.Email)
	assert.Equal(t, "Trial", out.Role)

	out, err = v.Registration(context.Background(), Registration{
		Email:      "b@example.com",
		Password:   "Sup3r-Secret",
		GivenName:  "Ana",
		FamilyName: "Silva",
		Role:       "empresa",
	})
	require.NoError(t, err)
	assert.Equal(t, "Empresa", out.Role)
}

func TestLoginChecksShapeOnly(t *testing.T) {
	v := newTestValidator()

	email, err := v.Login(" USER@example.com", "x")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)

	_, err = v.Login("", "")
	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Len(t, fields, 2)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b &lt;i&gt;", Sanitize("  a \n\t b   <i> "))
}

func TestStrength(t *testing.T) {
	v := newTestValidator()

	assert.Equal(t, 0, v.Strength("password"))
	assert.Equal(t, 95, v.Strength("Xk9#mQ2$vL7!pR4z"))
	// 25 length + 10 lower + 10 digit - 20 repeat
	assert.Equal(t, 25, v.Strength("aaab1234"))

	weak := v.Strength("abcdefg1")
	strong := v.Strength("abcdefg1ABC!")
	assert.Less(t, weak, strong)
}

func TestSuggestions(t *testing.T) {
	v := newTestValidator()

	got := v.Suggestions("abc")
	assert.Contains(t, got, "Use at least 8 characters")
	assert.Contains(t, got, "Add upper case letters")
	assert.Contains(t, got, "Add digits")
	assert.Contains(t, got, "Add symbols such as !@#$%")
	assert.NotContains(t, got, "Add lower case letters")

	assert.Contains(t, v.Suggestions("Admin"), "Avoid common passwords")

	assert.Empty(t, v.Suggestions("Xk9#mQ2$vL7!pR4z"))
}
