package goCred

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mailer delivers one plain-text email.
type Mailer interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

// SMTPMailer sends mail through an SMTP relay with optional PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
}

// NewSMTPMailer returns a mailer for the relay named in cfg.
func NewSMTPMailer(cfg EmailConfig) *SMTPMailer {
	return &SMTPMailer{Host: cfg.SMTPHost, Port: cfg.SMTPPort, Username: cfg.Username, Password: cfg.Password}
}

// Send delivers the message. ctx is only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, from, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Host == "" {
		return errors.New("smtp host not configured")
	}
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	return smtp.SendMail(addr, auth, from, []string{to}, composeMessage(from, to, subject, body))
}

func composeMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// URLs builds the links placed in notification emails.
type URLs struct {
	base string
}

// NewURLs returns a link builder rooted at appURL.
func NewURLs(appURL string) URLs {
	return URLs{base: strings.TrimRight(appURL, "/")}
}

// App returns the application root.
func (u URLs) App() string { return u.base }

// Login returns the login page.
func (u URLs) Login() string { return u.base + "/login" }

// PasswordReset returns the reset page for token.
func (u URLs) PasswordReset(token string) string {
	return u.base + "/user/password/reset?token=" + url.QueryEscape(token)
}

// Notifier renders and delivers account emails. Without a Mailer, or in dry
// run, messages are logged instead of sent.
type Notifier struct {
	mailer Mailer
	cfg    EmailConfig
	app    ApplicationConfig
	urls   URLs
	inst   *instruments
}

func newNotifier(mailer Mailer, cfg EmailConfig, app ApplicationConfig, inst *instruments) *Notifier {
	return &Notifier{mailer: mailer, cfg: cfg, app: app, urls: NewURLs(app.URL), inst: inst}
}

// URLs returns the notifier's link builder.
func (n *Notifier) URLs() URLs { return n.urls }

// SendWelcome mails a new account its username and a link to set a password.
func (n *Notifier) SendWelcome(ctx context.Context, account *Account, token *PasswordResetToken) error {
	subject := "Welcome to " + n.app.DisplayName
	body := fmt.Sprintf("Hello %s,\n\nAn account has been created for you on %s.\nYour username is %s.\n\nSet your password here:\n%s\n",
		displayName(account), n.app.DisplayName, account.Username, n.urls.PasswordReset(token.Token))
	return n.send(ctx, account.Email, subject, body)
}

// SendPasswordReset mails the reset link for token.
func (n *Notifier) SendPasswordReset(ctx context.Context, account *Account, token *PasswordResetToken, validFor time.Duration) error {
	subject := "Password reset request for " + n.app.DisplayName
	body := fmt.Sprintf("Hello %s,\n\nA password reset was requested for your %s account.\n\nReset your password here:\n%s\n\nThis link expires in %s. If you did not request it you can ignore this email.\n",
		displayName(account), n.app.DisplayName, n.urls.PasswordReset(token.Token), validFor)
	return n.send(ctx, account.Email, subject, body)
}

// SendPasswordResetConfirmation tells the account its password was reset.
func (n *Notifier) SendPasswordResetConfirmation(ctx context.Context, account *Account) error {
	subject := "Your " + n.app.DisplayName + " password was reset"
	body := fmt.Sprintf("Hello %s,\n\nYour %s password was reset. You can log in here:\n%s\n\nIf you did not do this, please contact your administrator.\n",
		displayName(account), n.app.DisplayName, n.urls.Login())
	return n.send(ctx, account.Email, subject, body)
}

func (n *Notifier) send(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" && n.cfg.Required {
		return userError("An email address is required to send notifications.", ErrUserManagement)
	}
	if n.cfg.DryRun || n.mailer == nil || to == "" {
		n.inst.log().Info(fmt.Sprintf("DRY RUN, would have sent email to %s from %s with subject \"%s\" and contents \"%s\"",
			to, n.cfg.From, subject, body))
		n.inst.metricInc(MetricEmailDryRun)
		return nil
	}
	if err := n.mailer.Send(ctx, n.cfg.From, to, subject, body); err != nil {
		n.inst.log().Error("send email failed", zap.String("to", to), zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	n.inst.metricInc(MetricEmailSent)
	return nil
}

func displayName(a *Account) string {
	if name := strings.TrimSpace(a.FirstName + " " + a.LastName); name != "" {
		return name
	}
	return a.Username
}
