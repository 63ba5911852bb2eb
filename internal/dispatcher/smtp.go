package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach-mailer/internal/clock"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/util"
	"gopkg.in/gomail.v2"
)

// mailSender is satisfied by *gomail.Dialer.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPConfig struct {
	Name            string
	Host            string
	Port            int
	Username        string
	Password        string
	FromName        string
	FromEmail       string
	MessageIDDomain string
	FailThreshold   int
	OpenForMs       int
}

// SMTPProvider relays through an SMTP server. SMTP has no provider-side id, so the
// provider message id is the Message-ID header we generate.
type SMTPProvider struct {
	cfg    SMTPConfig
	sender mailSender
	clock  clock.Clock
	br     *MicroBreaker
}

func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return newSMTPProvider(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), clock.System{})
}

func newSMTPProvider(cfg SMTPConfig, sender mailSender, clk clock.Clock) *SMTPProvider {
	if cfg.Name == "" {
		cfg.Name = "smtp"
	}
	if cfg.MessageIDDomain == "" {
		cfg.MessageIDDomain = "outreach-mailer.local"
	}
	if cfg.OpenForMs <= 0 {
		cfg.OpenForMs = 15000
	}
	return &SMTPProvider{
		cfg:    cfg,
		sender: sender,
		clock:  clk,
		br:     NewMicroBreaker(cfg.FailThreshold, time.Duration(cfg.OpenForMs)*time.Millisecond, clk),
	}
}

func (p *SMTPProvider) Name() string  { return p.cfg.Name }
func (p *SMTPProvider) Ready() bool   { return p.br.Ready() }
func (p *SMTPProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *SMTPProvider) Send(ctx context.Context, email model.EmailPayload) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", util.New(), p.cfg.MessageIDDomain)

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", p.cfg.FromEmail, p.cfg.FromName)
	msg.SetHeader("To", email.Recipient)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", email.Body)

	if err := p.sender.DialAndSend(msg); err != nil {
		p.br.OnFailure()
		return Result{}, fmt.Errorf("provider=%s smtp send: %w", p.cfg.Name, err)
	}
	p.br.OnSuccess()

	return Result{
		Success:           true,
		ProviderMessageID: messageID,
		Provider:          p.cfg.Name,
		Timestamp:         p.clock.Now(),
	}, nil
}
