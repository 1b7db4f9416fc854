package channels

import (
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"time"
)

// SMTPChannel delivers email notifications through an SMTP relay.
type SMTPChannel struct {
	host     string
	port     string
	username string
	password string
	timeout  time.Duration
}

func NewSMTPChannel(host, port, username, password string) (*SMTPChannel, error) {
	if host == "" {
		return nil, fmt.Errorf("SMTP_HOST not set")
	}
	if port == "" {
		return nil, fmt.Errorf("SMTP_PORT not set")
	}
	if username == "" {
		return nil, fmt.Errorf("SMTP_USER not set")
	}
	if password == "" {
		return nil, fmt.Errorf("SMTP_PASS not set")
	}
	return &SMTPChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  15 * time.Second,
	}, nil
}

func (s *SMTPChannel) ValidateDestination(destination string) error {
	if _, err := mail.ParseAddress(destination); err != nil {
		return fmt.Errorf("invalid email address %q: %w", destination, err)
	}
	return nil
}

func (s *SMTPChannel) Send(ctx context.Context, req SendRequest) DeliveryResult {
	if err := s.ValidateDestination(req.Destination); err != nil {
		return failure(KindInvalidAddress, err.Error())
	}

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	msg := []byte(
		"From: " + s.username + "\r\n" +
			"To: " + req.Destination + "\r\n" +
			"Subject: " + req.Message.Subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			req.Message.Body,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(addr, auth, s.username, []string{req.Destination}, msg)
	}()

	// smtp.SendMail has no context support; bound it ourselves so a
	// stuck relay cannot block other subscriptions' dispatches.
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-errCh:
	case <-timer.C:
		return failure(KindTransportTimeout, "smtp send timed out")
	case <-ctx.Done():
		return failure(KindTransportTimeout, ctx.Err().Error())
	}

	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return failure(KindTransportTimeout, err.Error())
		}
		if _, ok := err.(*net.OpError); ok {
			return failure(KindConnectionError, err.Error())
		}
		return failure(KindProviderRejected, err.Error())
	}

	return success(fmt.Sprintf("smtp-%d", time.Now().UnixNano()))
}
