// Package email renders and sends transactional mail over SMTP.
package email

import (
	"fmt"
	"net/smtp"
)

// Sender delivers one rendered message. The SMTP service implements it;
// tests substitute a recorder.
type Sender interface {
	Send(to, subject, body string) error
}

// Service sends HTML mail via plain SMTP.
type Service struct {
	host string
	port string
	from string
}

func NewService(host, port, from string) *Service {
	return &Service{host: host, port: port, from: from}
}

func (s *Service) Send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
