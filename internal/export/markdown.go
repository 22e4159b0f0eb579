package export

import (
	"fmt"
	"strings"

	"github.com/spoton/recommendation-service/internal/domain"
)

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"`", "\\`",
	"<", "&lt;",
)

func mdText(s string) string {
	return mdEscaper.Replace(strings.TrimSpace(s))
}

// mdCell escapes s for use inside a table row.
func mdCell(s string) string {
	return strings.ReplaceAll(mdText(s), "|", `\|`)
}

func mdLink(text, url string) string {
	if url == "" {
		return mdText(text)
	}
	return fmt.Sprintf("[%s](<%s>)", mdText(text), strings.ReplaceAll(url, ">", "%3E"))
}

// renderMarkdown renders out as a Markdown document.
func renderMarkdown(out domain.FinalOutput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", documentTitle)
	fmt.Fprintf(&b, "_%s_\n", mdText(subtitle(out.Constraints)))

	for _, s := range itemSections(out.MainResults) {
		fmt.Fprintf(&b, "\n## %s\n", s.Title)
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "\n### %s\n\n", mdLink(e.Name, e.URL))
			for _, f := range e.Fields {
				fmt.Fprintf(&b, "- **%s:** %s\n", f.Label, mdText(f.Value))
			}
		}
	}

	if days := itinerary(out); len(days) > 0 {
		b.WriteString("\n## Itinerary\n")
		for _, d := range days {
			fmt.Fprintf(&b, "\n### %s\n\n", dayHeading(d))
			b.WriteString("| Time | Activity |\n| --- | --- |\n")
			for _, s := range d.Slots {
				fmt.Fprintf(&b, "| %s | %s |\n", titleCase(string(s.TimeOfDay)), mdCell(slotLine(s)))
			}
			if d.DailyTotal != "" {
				fmt.Fprintf(&b, "\nDaily total: %s\n", mdText(d.DailyTotal))
			}
		}
		if total := out.Report.TotalEstimatedBudget; total != "" {
			fmt.Fprintf(&b, "\n**Total estimated budget:** %s\n", mdText(total))
		}
	}

	if len(out.References) > 0 {
		b.WriteString("\n## References\n\n")
		for _, r := range out.References {
			fmt.Fprintf(&b, "- %s [%s]\n", mdLink(referenceLabel(r), r.URL), r.Section)
		}
	}
	return b.String()
}
