// Package notify delivers account e-mails: verification links, password
// reset links and welcome messages.
//
// # Components
//
//   - [Sender] is the single delivery contract. [SMTPSender] implements it
//     over net/smtp with implicit TLS, STARTTLS or plain connections.
//   - [Retrying] wraps any Sender with bounded retries and an outbound
//     throttle (golang.org/x/time/rate).
//   - [Templates] renders the three message kinds from embedded html/template
//     and text/template files.
//
// # What this package must NOT do
//
//   - Decide whether a message should be sent; the engine owns that.
//   - Log message bodies. They carry single-use tokens.
package notify
