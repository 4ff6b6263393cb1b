package extract

import (
	"fmt"
	"strings"

	"imageocr/pkg/models"
)

// Merge concatenates the text of successful results, each framed by start and
// end markers naming its document. Failed results are skipped.
func Merge(results []models.ExtractionResult) string {
	var b strings.Builder
	for _, r := range results {
		if !r.Success {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### Start of Document: %s ###\n", r.Filename)
		b.WriteString(strings.TrimSpace(r.Text))
		fmt.Fprintf(&b, "\n### End of Document: %s ###", r.Filename)
	}
	return b.String()
}
