package pipeline

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"
)

// composePrompt builds the context handed to a stage: the case under review
// followed by the representative finding of every committed stage, in chain
// order. Later stages always see the full prior transcript.
func composePrompt(caseContext string, steps []chain.Step) string {
	if len(steps) == 0 {
		return caseContext
	}

	var b strings.Builder
	b.WriteString(caseContext)
	b.WriteString("\n\n--- Prior stage findings ---\n")
	for _, s := range steps {
		fmt.Fprintf(&b, "\n[%s] (confidence %.2f)\n%s\n", s.StepName, s.Confidence, s.Response)
	}
	return b.String()
}
