package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/eims-app/apiserver/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt"))
)

var subjects = map[types.EmailKind]string{
	types.EmailWelcome:       "Welcome to the EIMS family!",
	types.EmailPasswordReset: "Your password reset token",
}

type templateData struct {
	FirstName string
	URL       string
	ValidFor  string
}

// Render builds the message for msg with HTML and plain-text bodies.
func Render(msg types.EmailMessage, resetTTL time.Duration) (Message, error) {
	subject, ok := subjects[msg.Kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown email kind %q", msg.Kind)
	}
	data := templateData{
		FirstName: firstName(msg.Name),
		URL:       msg.URL,
		ValidFor:  humanDuration(resetTTL),
	}

	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, string(msg.Kind)+".html", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", msg.Kind, err)
	}
	if err := textTemplates.ExecuteTemplate(&text, string(msg.Kind)+".txt", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", msg.Kind, err)
	}

	return Message{
		To:      msg.To,
		ToName:  msg.Name,
		Subject: subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a limited time"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
