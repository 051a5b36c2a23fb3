package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/okian/kindred/internal/domain/model"
)

// Templates renders every notification kind.
type Templates struct {
	baseURL string
	byKind  map[Kind]*template.Template
}

const layout = `{{define "layout"}}<!doctype html>
<html><body style="font-family:Georgia,serif;color:#2b2b2b;max-width:560px;margin:auto">
<h2 style="color:#7a3b5e">Kindred</h2>
{{template "body" .}}
{{if .UnsubscribeURL}}<p style="font-size:12px;color:#888">Don't want these emails? <a href="{{.UnsubscribeURL}}">Unsubscribe</a>.</p>{{end}}
</body></html>{{end}}`

var bodies = map[Kind]string{ //nolint:gochecknoglobals // template sources
	KindSurveyConfirmation: `{{define "body"}}<p>Hi {{.Name}},</p>
<p>Thank you for finishing our survey. Your answers help us shape a safer, more thoughtful way to book companionship for events.</p>
<p>We will be in touch as we get closer to launch.</p>{{end}}`,
	KindBetaWaitlist: `{{define "body"}}<p>Hi {{.Name}},</p>
<p>You're on the beta list. Beta invitations go out in small groups and yours will arrive at this address.</p>{{end}}`,
	KindAdminNewResponse: `{{define "body"}}<p>A survey response was completed.</p>
<ul>
<li>Response: {{.Response.ResponseID}}</li>
<li>User type: {{.Response.UserType}}</li>
<li>Email: {{.Email}}</li>
<li>Beta interest: {{.Beta}}</li>
{{if .Response.EventTypes}}<li>Event types: {{join .Response.EventTypes}}</li>{{end}}
{{if .Response.Location}}<li>Location: {{.Response.Location.City}} {{.Response.Location.State}} {{.Response.Location.Country}}</li>{{end}}
</ul>{{end}}`,
	KindWaitlistWelcome: `{{define "body"}}<p>Hi {{.Name}},</p>
<p>Welcome to the Kindred waitlist. We'll email you when we open in your area.</p>{{end}}`,
}

var subjects = map[Kind]string{ //nolint:gochecknoglobals // subject lines
	KindSurveyConfirmation: "Thanks for completing the Kindred survey",
	KindBetaWaitlist:       "You're on the Kindred beta list",
	KindAdminNewResponse:   "New completed survey response",
	KindWaitlistWelcome:    "Welcome to the Kindred waitlist",
}

type view struct {
	Name           string
	Email          string
	Beta           bool
	Response       *model.SurveyResponse
	UnsubscribeURL string
}

// NewTemplates parses every template. baseURL prefixes links in emails.
func NewTemplates(baseURL string) (*Templates, error) {
	funcs := template.FuncMap{
		"join": func(s []string) string { return strings.Join(s, ", ") },
	}
	t := &Templates{
		baseURL: strings.TrimRight(baseURL, "/"),
		byKind:  make(map[Kind]*template.Template, len(bodies)),
	}
	for kind, src := range bodies {
		tmpl, err := template.New(string(kind)).Funcs(funcs).Parse(layout)
		if err != nil {
			return nil, fmt.Errorf("parse layout: %w", err)
		}
		if _, err := tmpl.Parse(src); err != nil {
			return nil, fmt.Errorf("parse %s: %w", kind, err)
		}
		t.byKind[kind] = tmpl
	}
	return t, nil
}

// Completion renders the messages owed when r becomes complete: the
// respondent's confirmation, a beta acknowledgement when opted in, and an
// operator notice when adminEmail is set. Nothing is owed without an email on r.
func (t *Templates) Completion(r *model.SurveyResponse, adminEmail string) ([]Message, error) {
	email := r.Email()
	if email == "" {
		return nil, nil
	}
	v := view{Name: firstName(r), Email: email, Beta: r.WantsBeta(), Response: r, UnsubscribeURL: t.UnsubscribeURL(email)}

	kinds := []Kind{KindSurveyConfirmation}
	if r.WantsBeta() {
		kinds = append(kinds, KindBetaWaitlist)
	}
	out := make([]Message, 0, len(kinds)+1)
	for _, k := range kinds {
		msg, err := t.render(k, r.ResponseID, email, v)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if adminEmail != "" {
		av := v
		av.UnsubscribeURL = ""
		msg, err := t.render(KindAdminNewResponse, r.ResponseID, adminEmail, av)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// WaitlistWelcome renders the welcome mail for a new waitlist entry.
func (t *Templates) WaitlistWelcome(e model.WaitlistEntry) (Message, error) {
	name := e.Name
	if name == "" {
		name = "there"
	}
	return t.render(KindWaitlistWelcome, e.Email, e.Email, view{
		Name:           name,
		Email:          e.Email,
		UnsubscribeURL: t.UnsubscribeURL(e.Email),
	})
}

// UnsubscribeURL is the link placed in respondent-facing emails.
func (t *Templates) UnsubscribeURL(email string) string {
	return t.baseURL + "/unsubscribe?email=" + url.QueryEscape(email)
}

func (t *Templates) render(kind Kind, key, to string, v view) (Message, error) {
	tmpl, ok := t.byKind[kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for %s", kind)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", v); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", kind, err)
	}
	return Message{
		ID:      MessageID(kind, key),
		Kind:    kind,
		To:      to,
		Subject: subjects[kind],
		HTML:    buf.String(),
		Text:    plainText(kind, v),
	}, nil
}

func plainText(kind Kind, v view) string {
	var b strings.Builder
	switch kind {
	case KindAdminNewResponse:
		fmt.Fprintf(&b, "Response %s completed (%s, beta=%t, email=%s).\n", v.Response.ResponseID, v.Response.UserType, v.Beta, v.Email)
	default:
		fmt.Fprintf(&b, "Hi %s,\n\n%s.\n", v.Name, subjects[kind])
	}
	if v.UnsubscribeURL != "" {
		fmt.Fprintf(&b, "\nUnsubscribe: %s\n", v.UnsubscribeURL)
	}
	return b.String()
}

func firstName(r *model.SurveyResponse) string {
	if r.Contact != nil {
		if f := strings.Fields(r.Contact.Name); len(f) > 0 {
			return f[0]
		}
	}
	return "there"
}
