package llm

import (
	"regexp"
	"strings"
)

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
	upperWordRe  = regexp.MustCompile(`\b[A-Z]+\b`)
	passWordRe   = regexp.MustCompile(`\bPASS\b`)
	failWordRe   = regexp.MustCompile(`\bFAIL\b`)
	yesWordRe    = regexp.MustCompile(`\bYES\b`)
	noWordRe     = regexp.MustCompile(`\bNO\b`)
	verdictWordRe = regexp.MustCompile(`(?:VERDICT|CONCLUSION|ANSWER|RESULT|FINAL|OUTCOME|DECISION|JUDGMENT)\s*:?\s*(PASS|FAIL|YES|NO)`)
	concludeWordRe = regexp.MustCompile(`(?:I\s+)?(?:CONCLUDE|THUS|THEREFORE|HENCE)\s*:?\s*(PASS|FAIL|YES|NO)`)
	alnumWordRe  = regexp.MustCompile(`\b[A-Z0-9]+\b`)
)

// ParsePassFail parses a model's free-text response into a tri-state
// verdict: true for pass, false for fail, nil when no reliable signal is
// found. Models are instructed to conclude with a bare PASS or FAIL, but
// responses vary (different formats, YES/NO, "Verdict: PASS", trailing
// punctuation) so this tries progressively looser patterns before giving up.
func ParsePassFail(text string) *bool {
	if text == "" {
		return nil
	}
	t := strings.ToUpper(strings.TrimSpace(text))

	lines := nonEmptyLines(t)

	// 0. Last line only — the strongest signal, since models are told to
	// put the verdict there.
	if len(lines) > 0 {
		last := lines[len(lines)-1]
		words := wordSet(upperWordRe.FindAllString(nonWordRe.ReplaceAllString(last, " "), -1))
		if words["PASS"] && !words["FAIL"] {
			return boolPtr(true)
		}
		if words["FAIL"] && !words["PASS"] {
			return boolPtr(false)
		}
	}

	// 1. Last three lines, most recent first.
	start := len(lines) - 3
	if start < 0 {
		start = 0
	}
	for i := len(lines) - 1; i >= start; i-- {
		clean := nonWordRe.ReplaceAllString(lines[i], " ")
		if passWordRe.MatchString(clean) && !failWordRe.MatchString(clean) {
			return boolPtr(true)
		}
		if failWordRe.MatchString(clean) && !passWordRe.MatchString(clean) {
			return boolPtr(false)
		}
		if yesWordRe.MatchString(clean) && !noWordRe.MatchString(clean) {
			return boolPtr(true)
		}
		if noWordRe.MatchString(clean) && !yesWordRe.MatchString(clean) {
			return boolPtr(false)
		}
	}

	// 2. Full-text explicit PASS/FAIL or YES/NO with no conflicting word.
	if passWordRe.MatchString(t) && !failWordRe.MatchString(t) {
		return boolPtr(true)
	}
	if failWordRe.MatchString(t) && !passWordRe.MatchString(t) {
		return boolPtr(false)
	}
	if yesWordRe.MatchString(t) && !noWordRe.MatchString(t) {
		return boolPtr(true)
	}
	if noWordRe.MatchString(t) && !yesWordRe.MatchString(t) {
		return boolPtr(false)
	}

	// 3. Labelled-verdict patterns: "Verdict: PASS", "Conclusion: FAIL", ...
	if m := verdictWordRe.FindStringSubmatch(t); m != nil {
		return verdictWord(m[1])
	}

	// 4. Conclusion-word patterns: "I conclude PASS", "Therefore FAIL", ...
	if m := concludeWordRe.FindStringSubmatch(t); m != nil {
		return verdictWord(m[1])
	}

	// 5. First or last significant uppercase token in the whole response.
	words := alnumWordRe.FindAllString(t, -1)
	if len(words) > 0 {
		first, last := words[0], words[len(words)-1]
		if isPassToken(first) || isPassToken(last) {
			return boolPtr(true)
		}
		if isFailToken(first) || isFailToken(last) {
			return boolPtr(false)
		}
	}

	return nil
}

func verdictWord(w string) *bool {
	switch w {
	case "PASS", "YES":
		return boolPtr(true)
	case "FAIL", "NO":
		return boolPtr(false)
	}
	return nil
}

func isPassToken(w string) bool {
	switch w {
	case "PASS", "YES", "TRUE", "1":
		return true
	}
	return false
}

func isFailToken(w string) bool {
	switch w {
	case "FAIL", "NO", "FALSE", "0":
		return true
	}
	return false
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

func wordSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
