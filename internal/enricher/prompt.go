package enricher

import (
	"fmt"
	"strings"
)

// Commentary is always shaped as these three labeled sections.
var commentarySections = []string{"Key Points", "Impact Analysis", "Future Outlook"}

const systemPrompt = "You are a news analyst writing concise, neutral analytical commentary for a general audience."

// buildPrompt constrains the model to the three-section commentary shape.
func buildPrompt(title, abstract string, section string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write analytical commentary for this %s article.\n\n", section)
	fmt.Fprintf(&b, "Title: %s\n", title)
	if abstract != "" {
		fmt.Fprintf(&b, "Summary: %s\n", abstract)
	}
	b.WriteString("\nStructure the commentary as exactly three labeled sections:\n")
	for _, s := range commentarySections {
		fmt.Fprintf(&b, "%s: 2-3 complete sentences.\n", s)
	}
	b.WriteString("\nDo not add any other headings, preamble, or closing remarks.")
	return b.String()
}
