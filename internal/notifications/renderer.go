package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-desk/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var (
	channelTypes = []domain.ChannelType{domain.ChannelTypeEmail, domain.ChannelTypeTelegram, domain.ChannelTypeMattermost}
	messageTypes = []MessageType{MessageTypeCreated, MessageTypeResolved}
)

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":         titleCase,
		"upper":         strings.ToUpper,
		"formatTime":    formatTime,
		"severityEmoji": severityEmoji,
		"escapeHTML":    html.EscapeString,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, channel := range channelTypes {
		for _, msg := range messageTypes {
			name := templateName(channel, msg)
			filename := fmt.Sprintf("templates/%s.tmpl", name)

			content, err := templatesFS.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", filename, err)
			}

			tmpl, err := template.New(name).Funcs(funcMap).Option("missingkey=error").Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", name, err)
			}

			r.templates[name] = tmpl
		}
	}

	return r, nil
}

func templateName(channel domain.ChannelType, msg MessageType) string {
	return fmt.Sprintf("%s_%s", channel, msg)
}

// Render renders a notification payload for the specified channel type.
// Returns subject and body.
func (r *Renderer) Render(channelType domain.ChannelType, payload NotificationPayload) (subject, body string, err error) {
	name := templateName(channelType, payload.MessageType)
	tmpl, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return renderSubject(payload), strings.TrimSpace(buf.String()), nil
}

// renderSubject generates the notification subject line.
func renderSubject(payload NotificationPayload) string {
	prefix := "Incident " + payload.Incident.Severity
	if payload.MessageType == MessageTypeResolved {
		prefix = "Resolved"
	}
	return fmt.Sprintf("[%s] %s", prefix, payload.Incident.Title)
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t any) string {
	switch v := t.(type) {
	case time.Time:
		return v.UTC().Format("Jan 2, 2006 15:04 UTC")
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format("Jan 2, 2006 15:04 UTC")
	}
	return ""
}

func severityEmoji(severity string) string {
	switch severity {
	case "P0":
		return "🔴"
	case "P1":
		return "🟠"
	case "P2":
		return "🟡"
	case "P3":
		return "🔵"
	default:
		return "⚪"
	}
}
