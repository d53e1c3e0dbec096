package mail

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"regexp"
	"strings"
	texttemplate "text/template"

	"github.com/yuin/goldmark"

	"github.com/formrelay/formrelay/internal/domain"
)

//go:embed templates/*.txt templates/*.html
var templateFS embed.FS

var (
	textTemplates = texttemplate.Must(texttemplate.New("").ParseFS(templateFS, "templates/*.txt"))
	htmlTemplates = htmltemplate.Must(htmltemplate.New("").ParseFS(templateFS, "templates/*.html"))
)

// Template names.
const (
	TplSubmission       = "submission"
	TplConfirmation     = "confirmation"
	TplLimitWarning     = "limit_warning"
	TplOverLimit        = "over_limit"
	TplUnconfirmRequest = "unconfirm_request"
)

// SubmissionView feeds the submission templates.
type SubmissionView struct {
	Host         string
	Fields       domain.Fields
	Time         string
	UnconfirmURL string
}

// ConfirmationView feeds the confirmation templates.
type ConfirmationView struct {
	Email       string
	Host        string
	ConfirmURL  string
	ServiceName string
}

// LimitView feeds the warning and over-limit templates.
type LimitView struct {
	Host  string
	Count int64
	Limit int
}

// UnconfirmView feeds the unconfirm request templates.
type UnconfirmView struct {
	Email        string
	Host         string
	UnconfirmURL string
}

// Render executes the text and HTML variants of a named template.
func Render(name string, data any) (text, html string, err error) {
	var tb, hb bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&tb, name+".txt", data); err != nil {
		return "", "", fmt.Errorf("render %s.txt: %w", name, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&hb, name+".html", data); err != nil {
		return "", "", fmt.Errorf("render %s.html: %w", name, err)
	}
	return tb.String(), hb.String(), nil
}

var placeholderRE = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// RenderCustom renders an owner-supplied template. The body is Markdown in
// which {{ name }} is replaced by the submitted value of field name,
// {{ _fields }} by a list of all fields and {{ _time }} by the submission
// time. Raw HTML in the body or in values is not passed through.
func RenderCustom(t domain.EmailTemplate, v SubmissionView) (subject, text, html string, err error) {
	md := fill(t.Body, v, true)
	var hb bytes.Buffer
	if err := goldmark.Convert([]byte(md), &hb); err != nil {
		return "", "", "", fmt.Errorf("render custom template: %w", err)
	}
	html = hb.String()
	if strings.TrimSpace(t.Style) != "" {
		html = "<style>" + strings.ReplaceAll(t.Style, "</", "") + "</style>\n" + html
	}
	subject = fill(t.Subject, v, false)
	return subject, fill(t.Body, v, false), html, nil
}

func fill(s string, v SubmissionView, markdown bool) string {
	return placeholderRE.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRE.FindStringSubmatch(m)[1]
		switch name {
		case "_fields":
			var b strings.Builder
			for _, f := range v.Fields {
				if markdown {
					fmt.Fprintf(&b, "- **%s**: %s\n", escapeMD(f.Name), escapeMD(f.Value))
				} else {
					fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
				}
			}
			return b.String()
		case "_time":
			return v.Time
		case "_host":
			return v.Host
		}
		val := v.Fields.Get(name)
		if markdown {
			return escapeMD(val)
		}
		return val
	})
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"<", "&lt;", ">", "&gt;", "#", `\#`, "!", `\!`,
)

func escapeMD(s string) string { return mdEscaper.Replace(s) }
