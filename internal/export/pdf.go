package export

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/spoton/recommendation-service/internal/domain"
)

type rgb struct{ r, g, b int }

var (
	colorTitle    = rgb{29, 29, 31}
	colorSubtitle = rgb{134, 134, 139}
	colorSection  = rgb{255, 79, 0}
	colorBody     = rgb{66, 66, 69}
	colorLink     = rgb{0, 102, 204}
)

// pdfWriter wraps fpdf with the document styles.
type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newPDFWriter() *pdfWriter {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(18, 15, 18)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle(documentTitle, true)
	pdf.SetCreator("spoton-recommendation-service", true)
	pdf.AddPage()
	// Core fonts are cp1252; translate UTF-8 input.
	return &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (w *pdfWriter) style(c rgb, fontStyle string, size float64) {
	w.pdf.SetTextColor(c.r, c.g, c.b)
	w.pdf.SetFont("Helvetica", fontStyle, size)
}

func (w *pdfWriter) title(text string) {
	w.style(colorTitle, "B", 22)
	w.pdf.MultiCell(0, 10, w.tr(text), "", "L", false)
}

func (w *pdfWriter) subtitle(text string) {
	w.style(colorSubtitle, "", 11)
	w.pdf.MultiCell(0, 6, w.tr(text), "", "L", false)
	w.pdf.Ln(6)
}

func (w *pdfWriter) section(text string) {
	w.pdf.Ln(6)
	w.style(colorSection, "B", 16)
	w.pdf.MultiCell(0, 8, w.tr(text), "", "L", false)
	w.pdf.Ln(2)
}

func (w *pdfWriter) heading(text string) {
	w.pdf.Ln(2)
	w.style(colorTitle, "B", 12)
	w.pdf.MultiCell(0, 6, w.tr(text), "", "L", false)
}

func (w *pdfWriter) labelled(label, value string) {
	w.style(colorBody, "B", 10)
	w.pdf.Write(5, w.tr(label+": "))
	w.style(colorBody, "", 10)
	w.pdf.Write(5, w.tr(value))
	w.pdf.Ln(5)
}

func (w *pdfWriter) line(text string) {
	w.style(colorBody, "", 10)
	w.pdf.MultiCell(0, 5, w.tr(text), "", "L", false)
}

func (w *pdfWriter) link(text, url, suffix string) {
	if url == "" {
		w.line(text + suffix)
		return
	}
	w.style(colorLink, "U", 10)
	w.pdf.WriteLinkString(5, w.tr(text), url)
	w.style(colorBody, "", 10)
	w.pdf.Write(5, w.tr(suffix))
	w.pdf.Ln(5)
}

func renderPDF(out io.Writer, doc domain.FinalOutput) error {
	w := newPDFWriter()

	w.title(documentTitle)
	w.subtitle(subtitle(doc.Constraints))

	for _, s := range itemSections(doc.MainResults) {
		w.section(s.Title)
		for _, e := range s.Entries {
			w.heading(e.Name)
			for _, f := range e.Fields {
				w.labelled(f.Label, f.Value)
			}
			if e.URL != "" {
				w.link(e.URL, e.URL, "")
			}
		}
	}

	if days := itinerary(doc); len(days) > 0 {
		w.section("Itinerary")
		for _, d := range days {
			w.heading(dayHeading(d))
			for _, s := range d.Slots {
				w.labelled(titleCase(string(s.TimeOfDay)), slotLine(s))
			}
			if d.DailyTotal != "" {
				w.labelled("Daily Total", d.DailyTotal)
			}
		}
		if total := doc.Report.TotalEstimatedBudget; total != "" {
			w.pdf.Ln(3)
			w.labelled("Total Estimated Budget", total)
		}
	}

	if len(doc.References) > 0 {
		w.section("References")
		for _, r := range doc.References {
			w.link(referenceLabel(r), r.URL, fmt.Sprintf(" [%s]", r.Section))
		}
	}

	if err := w.pdf.Output(out); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}
