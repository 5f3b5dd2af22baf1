package report

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/izzyftw1/rvi-sub014/internal/dispatch"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer fills document templates and converts them through Gotenberg.
// It backs the printable endpoints on the dispatch handler.
type Renderer struct {
	client    *Client
	templates *template.Template
	now       func() time.Time
}

var _ dispatch.NoteRenderer = (*Renderer)(nil)

// Printed quantities use Indian digit grouping (1,00,000 not 100,000).
var qtyPrinter = message.NewPrinter(language.MustParse("en-IN"))

// Empty or zero cells print a dash so a blank weight or count reads as
// "none", not as a printing defect.
func formatQty(n int64) string {
	if n == 0 {
		return "—"
	}
	return qtyPrinter.Sprintf("%d", n)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02 Jan 2006")
}

func formatDateTimePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "—"
	}
	return t.Format("02 Jan 2006 15:04")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatWeight(kg *float64) string {
	if kg == nil {
		return "—"
	}
	s := fmt.Sprintf("%.3f", *kg)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// NewRenderer parses the embedded document templates.
func NewRenderer(client *Client) (*Renderer, error) {
	funcMap := template.FuncMap{
		"formatQty":         formatQty,
		"formatDate":        formatDate,
		"formatDateTimePtr": formatDateTimePtr,
		"deref":             deref,
		"formatWeight":      formatWeight,
	}
	tpl, err := template.New("report").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse report templates: %w", err)
	}
	return &Renderer{
		client:    client,
		templates: tpl,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// noteData wraps the consignment with print metadata.
type noteData struct {
	Dispatch    dispatch.Dispatch
	GeneratedAt time.Time
}

// DispatchNote renders the transport copy that travels with the consignment.
func (r *Renderer) DispatchNote(ctx context.Context, d dispatch.Dispatch) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report renderer not initialised")
	}
	html, err := r.execute("dispatch_note.html", noteData{Dispatch: d, GeneratedAt: r.now()})
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

// PackingList renders the carton-level manifest for the consignment.
func (r *Renderer) PackingList(ctx context.Context, d dispatch.Dispatch) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report renderer not initialised")
	}
	html, err := r.execute("packing_list.html", noteData{Dispatch: d, GeneratedAt: r.now()})
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}

func (r *Renderer) execute(name string, data noteData) (string, error) {
	buf := &bytes.Buffer{}
	if err := r.templates.ExecuteTemplate(buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
