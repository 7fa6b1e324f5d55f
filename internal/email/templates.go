package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	tmplVerification  = "verification"
	tmplWelcome       = "welcome"
	tmplPasswordReset = "password_reset"
	tmplResetSuccess  = "reset_success"
)

// Each mail is parsed together with the shared layout, since every mail
// defines its own title, content and footer blocks.
var mailTemplates = map[string]*template.Template{
	tmplVerification:  mustParse(tmplVerification),
	tmplWelcome:       mustParse(tmplWelcome),
	tmplPasswordReset: mustParse(tmplPasswordReset),
	tmplResetSuccess:  mustParse(tmplResetSuccess),
}

type templateData struct {
	AppName   string
	Name      string
	Code      string
	Link      string
	ExpiresIn string
	Year      int
}

func mustParse(name string) *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
}

func render(name string, data templateData) (string, error) {
	t, ok := mailTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
