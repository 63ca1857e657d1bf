package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTemplatesRenderLinksAndEscapeNames(t *testing.T) {
	tpl, err := NewTemplates(TemplateConfig{AppName: "Maps", BaseURL: "https://maps.example/"})
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}

	msg, err := tpl.Verification("ana@example.com", "<Ana>", "abc123", 24*time.Hour)
	if err != nil {
		t.Fatalf("Verification: %v", err)
	}
	if msg.To != "ana@example.com" || !strings.Contains(msg.Subject, "Maps") {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if !strings.Contains(msg.HTML, "https://maps.example/verify-email?token=abc123") {
		t.Fatalf("verification link missing from html:\n%s", msg.HTML)
	}
	if strings.Contains(msg.HTML, "<Ana>") || !strings.Contains(msg.HTML, "&lt;Ana&gt;") {
		t.Fatal("expected name to be html-escaped")
	}
	if !strings.Contains(msg.Text, "expires in 1 day") {
		t.Fatalf("expected ttl in text body, got:\n%s", msg.Text)
	}

	reset, err := tpl.PasswordReset("ana@example.com", "Ana", "tok", time.Hour)
	if err != nil {
		t.Fatalf("PasswordReset: %v", err)
	}
	if !strings.Contains(reset.Text, "https://maps.example/reset-password?token=tok") {
		t.Fatalf("reset link missing:\n%s", reset.Text)
	}
	if !strings.Contains(reset.HTML, "1 hour") {
		t.Fatal("expected reset ttl in html")
	}

	welcome, err := tpl.Welcome("ana@example.com", "Ana")
	if err != nil {
		t.Fatalf("Welcome: %v", err)
	}
	if !strings.Contains(welcome.HTML, "https://maps.example/dashboard") {
		t.Fatal("expected dashboard link")
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		24 * time.Hour:   "1 day",
		48 * time.Hour:   "2 days",
		time.Hour:        "1 hour",
		90 * time.Minute: "90 minutes",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Fatalf("humanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestRetryingRetriesUntilSuccess(t *testing.T) {
	calls := 0
	flaky := SenderFunc(func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return errors.New("421 try later")
		}
		return nil
	})
	r := NewRetrying(flaky, RetryConfig{Attempts: 3, Delay: time.Second}, quietLogger())
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if err := r.Send(context.Background(), Message{To: "ana@example.com"}); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 || len(slept) != 2 {
		t.Fatalf("expected 3 calls and 2 waits, got %d calls %d waits", calls, len(slept))
	}
}

func TestRetryingGivesUp(t *testing.T) {
	down := errors.New("connection refused")
	calls := 0
	r := NewRetrying(SenderFunc(func(context.Context, Message) error {
		calls++
		return down
	}), RetryConfig{Attempts: 3}, quietLogger())
	r.sleep = func(context.Context, time.Duration) error { return nil }

	err := r.Send(context.Background(), Message{To: "ana@example.com"})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryingStopsOnCancel(t *testing.T) {
	calls := 0
	r := NewRetrying(SenderFunc(func(context.Context, Message) error {
		calls++
		return errors.New("boom")
	}), RetryConfig{Attempts: 5, Delay: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Send(ctx, Message{To: "ana@example.com"}); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestRetryingRejectsMissingRecipient(t *testing.T) {
	r := NewRetrying(Discard, DefaultRetryConfig(), quietLogger())
	if err := r.Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestSMTPConfigValidate(t *testing.T) {
	good := SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := []SMTPConfig{
		{Port: 587, From: "noreply@example.com"},
		{Host: "smtp.example.com", From: "noreply@example.com"},
		{Host: "smtp.example.com", Port: 587, From: "not an address"},
		{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", Encryption: "ssl3"},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestSMTPBuildMultipart(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		From:     "noreply@example.com",
		FromName: "Maps",
		ReplyTo:  "support@example.com",
	})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	raw, err := s.build(Message{
		To:      "ana@example.com",
		Subject: "Verificación",
		HTML:    "<p>hola</p>",
		Text:    "hola",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		"From: \"Maps\" <noreply@example.com>\r\n",
		"To: ana@example.com\r\n",
		"Reply-To: support@example.com\r\n",
		"Subject: =?utf-8?q?",
		"Content-Type: multipart/alternative; boundary=",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"<p>hola</p>",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in message:\n%s", want, body)
		}
	}
}

func TestRecorderLast(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	_ = r.Send(ctx, Message{To: "a@example.com", Subject: "one"})
	_ = r.Send(ctx, Message{To: "b@example.com", Subject: "two"})
	_ = r.Send(ctx, Message{To: "A@example.com", Subject: "three"})

	m, ok := r.Last("a@example.com")
	if !ok || m.Subject != "three" {
		t.Fatalf("unexpected last message: %+v ok=%v", m, ok)
	}
	if len(r.Messages()) != 3 {
		t.Fatal("expected three recorded messages")
	}
}
