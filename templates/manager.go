// Package templates resolves and renders channel/event/locale-specific
// message templates. Templates are read-only configuration at dispatch
// time: the built-in set covers every channel at the default locale and
// LoadDir layers operator-supplied files on top.
package templates

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"shipment-notification-service/channels"
	"shipment-notification-service/models"
)

// TemplateNotFoundError means no template matched the resolution chain.
// Callers must treat this as non-retryable for that subscription: it is
// a configuration gap, not a transport fault.
type TemplateNotFoundError struct {
	Channel   string
	EventCode string
	Locale    string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("no template for channel=%s event=%s locale=%s", e.Channel, e.EventCode, e.Locale)
}

// Template is one entry of the lookup table.
type Template struct {
	Channel   string
	EventCode string
	Locale    string
	Subject   string
	Body      string

	subjectTmpl *template.Template
	bodyTmpl    *template.Template
}

// Maximum rendered body lengths, in runes, for length-capped channels.
const (
	smsMaxLen  = 320
	chatMaxLen = 1024
)

type key struct {
	channel   string
	eventCode string
	locale    string
}

// Manager is the template lookup table plus the renderer.
type Manager struct {
	templates     map[key]*Template
	defaultLocale string
}

func NewManager() *Manager {
	m := &Manager{
		templates:     make(map[key]*Template),
		defaultLocale: models.DefaultLocale,
	}
	m.registerDefaults()
	return m
}

// Register parses and stores a template, replacing any existing entry
// for the same key.
func (m *Manager) Register(t Template) error {
	name := fmt.Sprintf("%s_%s_%s", t.Channel, t.EventCode, t.Locale)
	bodyTmpl, err := template.New(name).Option("missingkey=zero").Parse(t.Body)
	if err != nil {
		return fmt.Errorf("parse body template %s: %w", name, err)
	}
	t.bodyTmpl = bodyTmpl
	if t.Subject != "" {
		subjectTmpl, err := template.New(name + "_subject").Option("missingkey=zero").Parse(t.Subject)
		if err != nil {
			return fmt.Errorf("parse subject template %s: %w", name, err)
		}
		t.subjectTmpl = subjectTmpl
	}
	m.templates[key{t.Channel, t.EventCode, t.Locale}] = &t
	return nil
}

// Resolve walks the fallback chain: exact locale, then the default
// locale, then the channel's generic template at the requested locale.
func (m *Manager) Resolve(channel, eventCode, locale string) (*Template, error) {
	if locale == "" {
		locale = m.defaultLocale
	}
	if t, ok := m.templates[key{channel, eventCode, locale}]; ok {
		return t, nil
	}
	if t, ok := m.templates[key{channel, eventCode, m.defaultLocale}]; ok {
		return t, nil
	}
	if t, ok := m.templates[key{channel, models.EventCustom, locale}]; ok {
		return t, nil
	}
	if t, ok := m.templates[key{channel, models.EventCustom, m.defaultLocale}]; ok {
		return t, nil
	}
	return nil, &TemplateNotFoundError{Channel: channel, EventCode: eventCode, Locale: locale}
}

// Render substitutes variables into the template. Missing variables
// render as empty string; rendering is total over the declared
// placeholder set. Length-capped channels are truncated with an
// ellipsis, and the webhook channel gets the structured payload.
func (m *Manager) Render(t *Template, vars map[string]string) (channels.Message, error) {
	if vars == nil {
		vars = map[string]string{}
	}

	var bodyBuf bytes.Buffer
	if err := t.bodyTmpl.Execute(&bodyBuf, vars); err != nil {
		return channels.Message{}, fmt.Errorf("render body: %w", err)
	}
	body := bodyBuf.String()

	subject := ""
	if t.subjectTmpl != nil {
		var subjBuf bytes.Buffer
		if err := t.subjectTmpl.Execute(&subjBuf, vars); err != nil {
			return channels.Message{}, fmt.Errorf("render subject: %w", err)
		}
		subject = subjBuf.String()
	}

	msg := channels.Message{Subject: subject, Body: body}

	switch t.Channel {
	case models.ChannelSMS:
		msg.Body = truncate(body, smsMaxLen)
	case models.ChannelChat:
		msg.Body = truncate(body, chatMaxLen)
	case models.ChannelWebhook:
		payload := make(map[string]string, len(vars)+1)
		for k, v := range vars {
			payload[k] = v
		}
		payload["message"] = body
		msg.Payload = payload
	}
	return msg, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// LoadDir layers template files over the built-in set. Files are named
// <channel>_<eventCode>_<locale>.tmpl; an optional first line of the
// form "Subject: ..." followed by a blank line sets the subject.
func (m *Manager) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		parts := strings.SplitN(name, "_", 3)
		if len(parts) != 3 {
			return fmt.Errorf("template file %q: want <channel>_<event>_<locale>.tmpl", entry.Name())
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		subject, body := splitSubject(string(raw))
		if err := m.Register(Template{
			Channel:   parts[0],
			EventCode: parts[1],
			Locale:    parts[2],
			Subject:   subject,
			Body:      body,
		}); err != nil {
			return err
		}
	}
	return nil
}

func splitSubject(raw string) (subject, body string) {
	if !strings.HasPrefix(raw, "Subject:") {
		return "", raw
	}
	head, rest, found := strings.Cut(raw, "\n")
	if !found {
		return strings.TrimSpace(strings.TrimPrefix(head, "Subject:")), ""
	}
	return strings.TrimSpace(strings.TrimPrefix(head, "Subject:")),
		strings.TrimPrefix(rest, "\n")
}
