// Package email sends board notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
	BaseURL  string
}

// Message is one rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service renders and sends email
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Taskboard"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send delivers msg as a multipart HTML email.
func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("email recipient is empty")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-taskboard"

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&buf, "\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&buf, "\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "%s\r\n", msg.HTML)
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, []string{msg.To}, buf.Bytes()); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

func (s *Service) link(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(s.config.BaseURL, "/") + path
}

type InviteData struct {
	AppName   string
	BoardName string
	Inviter   string
	InviteURL string
}

type AssignmentData struct {
	AppName   string
	UserName  string
	TaskTitle string
	BoardName string
	Assigner  string
	TaskURL   string
}

type DeadlineData struct {
	AppName   string
	UserName  string
	TaskTitle string
	Deadline  string
	Overdue   bool
	TaskURL   string
}

// InviteMessage renders the board invitation email.
func (s *Service) InviteMessage(to, boardName, inviter, inviteURL string) (Message, error) {
	html, err := renderTemplate(inviteTemplate, InviteData{
		AppName:   s.config.AppName,
		BoardName: boardName,
		Inviter:   inviter,
		InviteURL: s.link(inviteURL),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render invite template: %w", err)
	}
	return Message{To: to, Subject: fmt.Sprintf("You're invited to join %s", boardName), HTML: html}, nil
}

func (s *Service) AssignmentMessage(to, userName, taskTitle, boardName, assigner, taskPath string) (Message, error) {
	html, err := renderTemplate(assignmentTemplate, AssignmentData{
		AppName:   s.config.AppName,
		UserName:  userName,
		TaskTitle: taskTitle,
		BoardName: boardName,
		Assigner:  assigner,
		TaskURL:   s.link(taskPath),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render assignment template: %w", err)
	}
	return Message{To: to, Subject: fmt.Sprintf("New task assigned: %s", taskTitle), HTML: html}, nil
}

func (s *Service) DeadlineMessage(to, userName, taskTitle string, deadline time.Time, overdue bool, taskPath string) (Message, error) {
	html, err := renderTemplate(deadlineTemplate, DeadlineData{
		AppName:   s.config.AppName,
		UserName:  userName,
		TaskTitle: taskTitle,
		Deadline:  deadline.UTC().Format("Mon, 02 Jan 2006 15:04 MST"),
		Overdue:   overdue,
		TaskURL:   s.link(taskPath),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render deadline template: %w", err)
	}
	subject := fmt.Sprintf("Reminder: %s is due soon", taskTitle)
	if overdue {
		subject = fmt.Sprintf("Overdue: %s", taskTitle)
	}
	return Message{To: to, Subject: subject, HTML: html}, nil
}

const (
	inviteTemplate     = "invite"
	assignmentTemplate = "assignment"
	deadlineTemplate   = "deadline"
)

var templates = map[string]*template.Template{
	inviteTemplate:     template.Must(template.New(inviteTemplate).Parse(inviteHTML)),
	assignmentTemplate: template.Must(template.New(assignmentTemplate).Parse(assignmentHTML)),
	deadlineTemplate:   template.Must(template.New(deadlineTemplate).Parse(deadlineHTML)),
}

func renderTemplate(name string, data any) (string, error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
