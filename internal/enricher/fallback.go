package enricher

import (
	"fmt"
	"strings"
)

// fallbackCommentary synthesizes deterministic three-section commentary from
// the article title and section. Produced only after AI generation has
// permanently failed; the article still counts as complete.
func fallbackCommentary(title string, section string) string {
	title = strings.TrimSpace(title)
	var b strings.Builder

	fmt.Fprintf(&b, "Key Points: %s is a developing story in the %s section. ", title, section)
	b.WriteString("The full details are covered in the article above. ")
	b.WriteString("Automated analysis was unavailable for this item.\n\n")

	fmt.Fprintf(&b, "Impact Analysis: Events in %s coverage of this kind can carry implications beyond the immediate story. ", section)
	b.WriteString("Readers should consult the original reporting for context. ")
	b.WriteString("A fuller analysis will be attached when generation capacity returns.\n\n")

	fmt.Fprintf(&b, "Future Outlook: Follow-up reporting on \"%s\" is likely as the story develops. ", title)
	b.WriteString("Check back for updated coverage in this section.")

	return b.String()
}
