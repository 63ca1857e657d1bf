package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates
var templateFS embed.FS

// TemplateConfig holds the values shared by every message.
type TemplateConfig struct {
	AppName       string `yaml:"app_name" toml:"app_name" env:"APP_NAME"`
	BaseURL       string `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	VerifyPath    string `yaml:"verify_path" toml:"verify_path" env:"VERIFY_PATH"`
	ResetPath     string `yaml:"reset_path" toml:"reset_path" env:"RESET_PATH"`
	DashboardPath string `yaml:"dashboard_path" toml:"dashboard_path" env:"DASHBOARD_PATH"`
	SupportURL    string `yaml:"support_url" toml:"support_url" env:"SUPPORT_URL"`
}

// DefaultTemplateConfig returns the stock link layout.
func DefaultTemplateConfig() TemplateConfig {
	return TemplateConfig{
		AppName:       "MapVision Analytics",
		BaseURL:       "http://localhost:8080",
		VerifyPath:    "/verify-email",
		ResetPath:     "/reset-password",
		DashboardPath: "/dashboard",
	}
}

type kind struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// Templates renders verification, reset and welcome messages.
type Templates struct {
	cfg   TemplateConfig
	kinds map[string]kind
}

type templateData struct {
	Subject    string
	AppName    string
	Name       string
	URL        string
	ExpiresIn  string
	SupportURL string
}

// NewTemplates parses the embedded templates.
func NewTemplates(cfg TemplateConfig) (*Templates, error) {
	def := DefaultTemplateConfig()
	if cfg.AppName == "" {
		cfg.AppName = def.AppName
	}
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = def.VerifyPath
	}
	if cfg.ResetPath == "" {
		cfg.ResetPath = def.ResetPath
	}
	if cfg.DashboardPath == "" {
		cfg.DashboardPath = def.DashboardPath
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	t := &Templates{cfg: cfg, kinds: map[string]kind{}}
	for _, name := range []string{"verification", "reset", "welcome"} {
		h, err := htmltemplate.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s html: %w", name, err)
		}
		x, err := texttemplate.ParseFS(templateFS, "templates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s text: %w", name, err)
		}
		t.kinds[name] = kind{html: h, text: x}
	}
	return t, nil
}

// Verification builds the e-mail verification message.
func (t *Templates) Verification(to, name, token string, ttl time.Duration) (Message, error) {
	return t.render("verification", to, "Verify your account - "+t.cfg.AppName, templateData{
		Name:      name,
		URL:       t.link(t.cfg.VerifyPath, token),
		ExpiresIn: humanDuration(ttl),
	})
}

// PasswordReset builds the password reset message.
func (t *Templates) PasswordReset(to, name, token string, ttl time.Duration) (Message, error) {
	return t.render("reset", to, "Password reset - "+t.cfg.AppName, templateData{
		Name:      name,
		URL:       t.link(t.cfg.ResetPath, token),
		ExpiresIn: humanDuration(ttl),
	})
}

// Welcome builds the post-verification welcome message.
func (t *Templates) Welcome(to, name string) (Message, error) {
	return t.render("welcome", to, "Welcome to "+t.cfg.AppName+"!", templateData{
		Name: name,
		URL:  t.cfg.BaseURL + t.cfg.DashboardPath,
	})
}

func (t *Templates) link(path, token string) string {
	return t.cfg.BaseURL + path + "?token=" + url.QueryEscape(token)
}

func (t *Templates) render(name, to, subject string, data templateData) (Message, error) {
	k, ok := t.kinds[name]
	if !ok {
		return Message{}, fmt.Errorf("notify: unknown template %q", name)
	}
	data.Subject = subject
	data.AppName = t.cfg.AppName
	data.SupportURL = t.cfg.SupportURL

	var h, x bytes.Buffer
	if err := k.html.ExecuteTemplate(&h, "layout.html", data); err != nil {
		return Message{}, fmt.Errorf("notify: render %s html: %w", name, err)
	}
	if err := k.text.Execute(&x, data); err != nil {
		return Message{}, fmt.Errorf("notify: render %s text: %w", name, err)
	}
	return Message{To: to, Subject: subject, HTML: h.String(), Text: x.String()}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
