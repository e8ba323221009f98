// Package templates renders the pages shown in the browser after the
// OAuth redirect returns to the bot.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed html/*.html
var content embed.FS

// Default page texts
const (
	DefaultCompleteMessage = "Авторизация прошла успешно. Вернитесь в Telegram и выберите каталог."
	DefaultErrorTitle      = "Ошибка авторизации"
)

// TemplateError wraps a failure to render a page
type TemplateError struct {
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// Templates manages the HTML templates
type Templates struct {
	complete *template.Template
	error    *template.Template
}

// LoadTemplates loads and parses all HTML templates
func LoadTemplates() (*Templates, error) {
	t := &Templates{}
	var err error

	if t.complete, err = template.ParseFS(content, "html/layout.html", "html/complete.html"); err != nil {
		return nil, &TemplateError{Message: "parsing complete page", Cause: err}
	}
	if t.error, err = template.ParseFS(content, "html/layout.html", "html/error.html"); err != nil {
		return nil, &TemplateError{Message: "parsing error page", Cause: err}
	}

	return t, nil
}

// CompleteData holds data for the completion page
type CompleteData struct {
	Message string
	BotName string
}

// RenderComplete renders the completion page
func (t *Templates) RenderComplete(w http.ResponseWriter, data CompleteData) error {
	if data.Message == "" {
		data.Message = DefaultCompleteMessage
	}
	return t.render(w, t.complete, http.StatusOK, data)
}

// ErrorData holds data for the error page
type ErrorData struct {
	Title   string
	Message string
	// Status defaults to 400
	Status int
}

// RenderError renders the error page
func (t *Templates) RenderError(w http.ResponseWriter, data ErrorData) error {
	if data.Title == "" {
		data.Title = DefaultErrorTitle
	}
	status := data.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	return t.render(w, t.error, status, data)
}

// RenderToString renders a template to a string
func (t *Templates) RenderToString(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", &TemplateError{Message: "failed to render template", Cause: err}
	}
	return buf.String(), nil
}

// render executes into a buffer so a failing template never leaves a
// partial page behind
func (t *Templates) render(w http.ResponseWriter, tmpl *template.Template, status int, data interface{}) error {
	page, err := t.RenderToString(tmpl, data)
	if err != nil {
		return err
	}
	sw := t.NewSafeWriter(w)
	sw.SetStatusCode(status)
	_, err = sw.Write([]byte(page))
	return err
}
