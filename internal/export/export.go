// Package export renders the final output of a finished run as PDF, HTML,
// Markdown, JSON or YAML.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"github.com/spoton/recommendation-service/internal/domain"
)

// Format is an export format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// DefaultFormat is used when no format is requested.
const DefaultFormat = FormatPDF

// Formats lists the supported formats.
var Formats = []Format{FormatPDF, FormatHTML, FormatMarkdown, FormatJSON, FormatYAML}

// ParseFormat parses a format name. An empty name yields DefaultFormat and
// "md" and "yml" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultFormat, nil
	case "pdf":
		return FormatPDF, nil
	case "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", domain.NewValidationError("format", fmt.Sprintf("unsupported export format %q", s))
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	}
	return "application/octet-stream"
}

// Extension returns the file extension of the format, without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Filename returns the attachment name for an export of run id.
func Filename(id string, f Format) string {
	return fmt.Sprintf("spot-on-%s.%s", id, f.Extension())
}

// Exporter renders final outputs. It is safe for concurrent use.
type Exporter struct {
	md goldmark.Markdown
}

// New creates an Exporter.
func New() *Exporter {
	return &Exporter{
		md: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Linkify)),
	}
}

// Render writes out in format f to w. Constraints in out drive the document
// subtitle; fallback is used when out carries none.
func (e *Exporter) Render(w io.Writer, f Format, out domain.FinalOutput, fallback *domain.Constraints) error {
	if out.Constraints == nil {
		out.Constraints = fallback
	}
	switch f {
	case FormatPDF:
		return renderPDF(w, out)
	case FormatHTML:
		return e.renderHTML(w, out)
	case FormatMarkdown:
		_, err := io.WriteString(w, renderMarkdown(out))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case FormatYAML:
		return renderYAML(w, out)
	}
	return domain.NewValidationError("format", fmt.Sprintf("unsupported export format %q", f))
}

// renderYAML keys the document by the JSON field names.
func renderYAML(w io.Writer, out domain.FinalOutput) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode final output: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode final output: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

const htmlHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Spot On</title>
<style>
body { font-family: -apple-system, Helvetica, Arial, sans-serif; color: #424245; max-width: 860px; margin: 2rem auto; padding: 0 1rem; }
h1 { color: #1d1d1f; margin-bottom: 0.2rem; }
h2 { color: #FF4F00; margin-top: 2rem; }
h3 { color: #1d1d1f; margin-bottom: 0.3rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #d2d2d7; padding: 0.3rem 0.6rem; }
a { color: #0066cc; }
</style>
</head>
<body>
`

func (e *Exporter) renderHTML(w io.Writer, out domain.FinalOutput) error {
	var body bytes.Buffer
	if err := e.md.Convert([]byte(renderMarkdown(out)), &body); err != nil {
		return fmt.Errorf("convert markdown: %w", err)
	}
	if _, err := io.WriteString(w, htmlHead); err != nil {
		return err
	}
	if _, err := body.WriteTo(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}
