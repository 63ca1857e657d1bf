package validator

import (
	"context"
	"errors"
	"html"
	"net"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Resolver is the DNS subset used by the mail-domain check. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config tunes the validator. The zero value is usable; [DefaultConfig] is
// the production policy.
type Config struct {
	MinPasswordLength   int
	MaxPasswordLength   int
	RequireMixedClasses bool
	CheckMailDomain     bool
	BlockedDomains      []string
	CommonPasswords     []string
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		MinPasswordLength: 8,
		MaxPasswordLength: 128,
		BlockedDomains: []string{
			"10minutemail.com",
			"guerrillamail.com",
			"mailinator.com",
			"yopmail.com",
			"tempmail.org",
			"throwaway.email",
		},
		CommonPasswords: []string{
			"password", "123456", "123456789", "qwerty", "abc123",
			"password123", "admin", "letmein", "welcome", "monkey",
			"1234567890", "password1", "admin123",
		},
	}
}

const (
	maxEmailLength   = 255
	minNameRunes     = 2
	maxNameRunes     = 50
	maxCompanyLength = 255
	tokenHexLength   = 64
)

var (
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	namePattern    = regexp.MustCompile(`^[\p{L}\s\-'.]+$`)
	companyPattern = regexp.MustCompile(`^[\p{L}\p{N}\s\-&.,()]+$`)
	phonePattern   = regexp.MustCompile(`^\+?[0-9\s\-().]{7,20}$`)
	tokenPattern   = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// Validator applies a [Config]. It is safe for concurrent use.
type Validator struct {
	cfg      Config
	resolver Resolver
	blocked  map[string]struct{}
	common   []string
}

// New builds a validator. resolver may be nil when CheckMailDomain is off.
func New(cfg Config, resolver Resolver) *Validator {
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}
	if cfg.MaxPasswordLength <= 0 {
		cfg.MaxPasswordLength = 128
	}

	v := &Validator{
		cfg:      cfg,
		resolver: resolver,
		blocked:  make(map[string]struct{}, len(cfg.BlockedDomains)),
		common:   make([]string, 0, len(cfg.CommonPasswords)),
	}
	for _, d := range cfg.BlockedDomains {
		v.blocked[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, p := range cfg.CommonPasswords {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			v.common = append(v.common, p)
		}
	}
	return v
}

// Email normalizes (trim, lower-case) and validates an address. The domain
// deliverability check runs only when configured.
func (v *Validator) Email(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmailRequired
	}
	if len(email) > maxEmailLength {
		return "", ErrEmailTooLong
	}
	if !emailPattern.MatchString(email) {
		return "", ErrEmailInvalid
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", ErrEmailInvalid
	}

	domain := email[strings.LastIndexByte(email, '@')+1:]
	if _, blocked := v.blocked[domain]; blocked {
		return "", ErrEmailDomainBlocked
	}

	if v.cfg.CheckMailDomain && v.resolver != nil {
		if !v.domainAcceptsMail(ctx, domain) {
			return "", ErrEmailDomainNoMail
		}
	}
	return email, nil
}

// domainAcceptsMail treats lookup failures other than "not found" as a
// transient resolver problem and lets the address through.
func (v *Validator) domainAcceptsMail(ctx context.Context, domain string) bool {
	mx, err := v.resolver.LookupMX(ctx, domain)
	if err == nil && len(mx) > 0 {
		return true
	}
	if err != nil && !isNotFound(err) {
		return true
	}

	hosts, err := v.resolver.LookupHost(ctx, domain)
	if err == nil && len(hosts) > 0 {
		return true
	}
	return err != nil && !isNotFound(err)
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	return false
}

// Password checks the password policy. Length is measured in bytes, matching
// what the hasher consumes.
func (v *Validator) Password(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len(password) < v.cfg.MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > v.cfg.MaxPasswordLength {
		return ErrPasswordTooLong
	}

	classes := classify(password)
	if classes.letters == classes.total {
		return ErrPasswordOnlyLetters
	}
	if classes.digits == classes.total {
		return ErrPasswordOnlyDigits
	}
	if v.isCommon(password) {
		return ErrPasswordCommon
	}
	if v.cfg.RequireMixedClasses && (classes.upper == 0 || classes.lower == 0 || classes.digits == 0) {
		return ErrPasswordComplexity
	}
	return nil
}

func (v *Validator) isCommon(password string) bool {
	lower := strings.ToLower(password)
	for _, common := range v.common {
		if lower == common || strings.Contains(lower, common) {
			return true
		}
	}
	return false
}

// Name validates a personal name after NFC normalization.
func (v *Validator) Name(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", ErrNameRequired
	}
	n := utf8.RuneCountInString(name)
	if n < minNameRunes || n > maxNameRunes {
		return "", ErrNameLength
	}
	if !namePattern.MatchString(name) {
		return "", ErrNameCharacters
	}
	return name, nil
}

// Company validates an optional company name. Empty is accepted.
func (v *Validator) Company(company string) (string, error) {
	company = norm.NFC.String(strings.TrimSpace(company))
	if company == "" {
		return "", nil
	}
	if len(company) > maxCompanyLength {
		return "", ErrCompanyTooLong
	}
	if !companyPattern.MatchString(company) {
		return "", ErrCompanyInvalid
	}
	return company, nil
}

// Phone validates an optional phone number. Empty is accepted.
func (v *Validator) Phone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	if !phonePattern.MatchString(phone) {
		return "", ErrPhoneInvalid
	}
	return phone, nil
}

// Token checks the shape of a session or single-use token and returns it
// lower-cased.
func (v *Validator) Token(token string) (string, error) {
	token = strings.TrimSpace(token)
	if len(token) != tokenHexLength || !tokenPattern.MatchString(token) {
		return "", ErrTokenInvalid
	}
	return strings.ToLower(token), nil
}

// Sanitize trims, collapses internal whitespace and HTML-escapes free text.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return html.EscapeString(s)
}

type charClasses struct {
	total, letters, upper, lower, digits, symbols int
}

func classify(s string) charClasses {
	var c charClasses
	for _, r := range s {
		c.total++
		switch {
		case unicode.IsUpper(r):
			c.letters++
			c.upper++
		case unicode.IsLower(r):
			c.letters++
			c.lower++
		case unicode.IsLetter(r):
			c.letters++
		case unicode.IsDigit(r):
			c.digits++
		default:
			c.symbols++
		}
	}
	return c
}
