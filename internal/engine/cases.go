package engine

import (
	"fmt"
	"strings"

	"forgecore/internal/testorch"
	"forgecore/internal/types"
)

// planSectionHeaders are the all-caps markers Planner's prompt templates
// use (spec §4.6/§4.8's fresh-plan and modification-plan formats). Used to
// find where a section ends when the model didn't follow the template
// exactly.
var planSectionHeaders = []string{
	"PROBLEM DEFINITION:",
	"IO INTERFACE:",
	"ALGORITHMIC REQUIREMENTS:",
	"SAFETY CAPS:",
	"TEST CASES:",
	"RECOMMENDED TOOLS:",
	"KEEP:",
	"CHANGE:",
	"ADD:",
	"REMOVE:",
}

// DeriveCases extracts literal (input, expected_output) JSON pairs out of a
// PLAN artifact's "TEST CASES:" section (spec §4.6, consumed by
// TestOrchestrator per §4.10). Planner never returns structured cases —
// just prose following its prompt template — so this is where that prose
// gets turned into testorch.Case values; it returns nil when the section is
// absent or nothing JSON-shaped is found in it, letting the caller fall
// back to testorch's smoke test.
func DeriveCases(planContent string, taskType types.TaskType) []testorch.Case {
	section := extractSection(planContent, "TEST CASES:")
	if strings.TrimSpace(section) == "" {
		return nil
	}

	blobs := extractJSONObjects(section)
	if len(blobs) < 2 {
		return nil
	}

	comparator := testorch.ComparatorExact
	if !IsDeterministicTask(taskType) {
		comparator = testorch.ComparatorSimilarity
	}

	cases := make([]testorch.Case, 0, len(blobs)/2)
	for i := 0; i+1 < len(blobs); i += 2 {
		cases = append(cases, testorch.Case{
			Name:       fmt.Sprintf("case-%d", i/2+1),
			InputJSON:  blobs[i],
			Expected:   blobs[i+1],
			Comparator: comparator,
		})
	}
	return cases
}

// extractSection returns the text between header (exclusive) and whichever
// other known plan section header comes next, or the end of content.
func extractSection(content, header string) string {
	upper := strings.ToUpper(content)
	idx := strings.Index(upper, strings.ToUpper(header))
	if idx == -1 {
		return ""
	}
	rest := content[idx+len(header):]
	restUpper := strings.ToUpper(rest)
	end := len(rest)
	for _, h := range planSectionHeaders {
		if h == header {
			continue
		}
		if i := strings.Index(restUpper, h); i != -1 && i < end {
			end = i
		}
	}
	return rest[:end]
}

// extractJSONObjects scans text for top-level brace-balanced {...} blobs, in
// order of appearance. It's a plain depth counter rather than a regex since
// JSON objects nest arbitrarily and a greedy regex would over- or
// under-match on the first '}' it sees.
func extractJSONObjects(text string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					out = append(out, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// IsDeterministicTask reports whether task_type implies a pure function of
// its input — the condition spec §4.10 uses to pick exact-match comparison
// over embedding similarity, and that the engine re-uses to decide whether
// a REUSE-path re-execution may be served from a pinned prior output.
func IsDeterministicTask(tt types.TaskType) bool {
	switch tt {
	case types.TaskArithmetic, types.TaskDataProcessing, types.TaskTranslation, types.TaskCodeGeneration, types.TaskAnalysis, types.TaskQuestionAnswering:
		return true
	default:
		return false
	}
}
