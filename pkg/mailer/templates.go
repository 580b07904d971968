package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.html
var templateFiles embed.FS

// Template names one of the transactional e-mails.
type Template string

const (
	TemplateWelcome       Template = "welcome"
	TemplatePasswordReset Template = "password_reset"
	TemplateEnrollment    Template = "enrollment"
	TemplatePaymentLink   Template = "payment_link"
)

// WelcomeData feeds the welcome template.
type WelcomeData struct {
	Name string
}

// PasswordResetData feeds the password reset template.
type PasswordResetData struct {
	Name      string
	ResetURL  string
	ExpiresIn time.Duration
}

// EnrollmentData feeds the enrollment confirmation template.
type EnrollmentData struct {
	StudentName string
	CourseTitle string
	CourseID    string
	CourseURL   string
}

// PaymentLinkData feeds the payment link template.
type PaymentLinkData struct {
	Name        string
	CourseTitle string
	CheckoutURL string
}

var subjects = map[Template]string{
	TemplateWelcome:       "Welcome to Academix!",
	TemplatePasswordReset: "Your password reset token (valid for {{.ExpiresIn}})",
	TemplateEnrollment:    "Enrollment Confirmation for {{.CourseTitle}}",
	TemplatePaymentLink:   "Complete your enrollment in {{.CourseTitle}}",
}

type envelope struct {
	Data interface{}
	Year int
}

// Renderer executes the embedded HTML templates.
type Renderer struct {
	bodies   *template.Template
	subjects map[Template]*texttemplate.Template
	now      func() time.Time
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	bodies, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}

	parsed := make(map[Template]*texttemplate.Template, len(subjects))
	for name, raw := range subjects {
		if bodies.Lookup(string(name)+".html") == nil {
			return nil, fmt.Errorf("mail template %s missing", name)
		}
		t, err := texttemplate.New(string(name)).Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse subject %s: %w", name, err)
		}
		parsed[name] = t
	}
	return &Renderer{bodies: bodies, subjects: parsed, now: time.Now}, nil
}

// Render returns the subject and HTML body for tmpl.
func (r *Renderer) Render(tmpl Template, data interface{}) (string, string, error) {
	subjectTmpl, ok := r.subjects[tmpl]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template %q", tmpl)
	}

	var subject bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject %s: %w", tmpl, err)
	}

	var body bytes.Buffer
	if err := r.bodies.ExecuteTemplate(&body, string(tmpl)+".html", envelope{Data: data, Year: r.now().Year()}); err != nil {
		return "", "", fmt.Errorf("render body %s: %w", tmpl, err)
	}
	return subject.String(), body.String(), nil
}
