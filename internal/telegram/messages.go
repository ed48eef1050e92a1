package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// Escape makes a user supplied value safe for HTML parse mode.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Lead is the subset of a submission shown in notifications.
type Lead struct {
	Name        string
	Email       string
	UserType    string
	Specialty   string
	Practice    string
	Source      string
	Cofounder   bool
	Note        string
	SubmittedAt time.Time
}

// NewsletterMessage announces a newsletter signup.
func NewsletterMessage(l Lead) string {
	var b strings.Builder
	b.WriteString("📬 <b>New newsletter subscriber</b>\n")
	line(&b, "Email", l.Email)
	line(&b, "Name", l.Name)
	line(&b, "Source", l.Source)
	return b.String()
}

// InterestMessage announces an interest form submission.
func InterestMessage(l Lead, isNew bool) string {
	var b strings.Builder
	if isNew {
		b.WriteString("🔥 <b>New interest form submission</b>\n")
	} else {
		b.WriteString("🔁 <b>Updated interest form submission</b>\n")
	}
	line(&b, "Name", l.Name)
	line(&b, "Email", l.Email)
	line(&b, "Type", l.UserType)
	line(&b, "Specialty", l.Specialty)
	line(&b, "Practice", l.Practice)
	if l.Cofounder {
		b.WriteString("⭐ <b>Co-founder interest</b>\n")
	}
	return b.String()
}

// SignupMessage announces a quick signup relayed to n8n.
func SignupMessage(l Lead) string {
	var b strings.Builder
	b.WriteString("✍️ <b>New signup</b>\n")
	line(&b, "Name", l.Name)
	line(&b, "Email", l.Email)
	line(&b, "Role", l.UserType)
	line(&b, "Note", l.Note)
	return b.String()
}

// SubmissionMessage announces a waitlist application.
func SubmissionMessage(l Lead) string {
	var b strings.Builder
	b.WriteString("🩺 <b>New physician application</b>\n")
	line(&b, "Name", l.Name)
	line(&b, "Email", l.Email)
	line(&b, "Specialty", l.Specialty)
	line(&b, "Practice model", l.Practice)
	if l.Cofounder {
		b.WriteString("⭐ <b>Interested in the clinical council</b>\n")
	}
	return b.String()
}

// AlertMessage reports an operational failure.
func AlertMessage(kind string, err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return fmt.Sprintf("🚨 <b>Funnel alert</b>\n<b>%s</b>\n<code>%s</code>", Escape(kind), Escape(msg))
}

func line(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "<b>%s:</b> %s\n", label, Escape(value))
}
