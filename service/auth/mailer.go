package auth

import (
	"fmt"
	"log"

	"gopkg.in/gomail.v2"

	"github.com/sehatsethu/sehatsethu-server/cmd/utils"
)

// Mailer sends transactional mail over SMTP. Sends run in goroutines;
// a failed send is logged and the flow that requested it carries on.
type Mailer struct {
	host string
	port int
	user string
	pass string
	from string
}

func NewMailer(cfg *utils.Config) *Mailer {
	return &Mailer{
		host: cfg.SMTPHost,
		port: cfg.SMTPPort,
		user: cfg.SMTPUser,
		pass: cfg.SMTPPass,
		from: cfg.MailFrom,
	}
}

func (m *Mailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	d := gomail.NewDialer(m.host, m.port, m.user, m.pass)
	return d.DialAndSend(msg)
}

// SendOTP mails a one-time code, asynchronously.
func (m *Mailer) SendOTP(to, code string) {
	go func() {
		body := fmt.Sprintf("Your verification code is: %s. Ignore this email if you did not request a verification code.", code)
		if err := m.send(to, "Email Verification Code", body); err != nil {
			log.Printf("mailer: send OTP to %s: %v", to, err)
		}
	}()
}
