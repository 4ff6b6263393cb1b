package ocr

import "strings"

// Replacement is one literal substitution of a known recognition error.
type Replacement struct {
	From, To string
}

// DefaultReplacements are applied in order. Extend the table rather than the code.
var DefaultReplacements = []Replacement{
	{"I1em", "Item"},
	{"0CR", "OCR"},
	{"$ ", "$"},
	{" - ", "-"},
	{"l0", "10"},
	{"O0", "00"},
}

// PostProcessor fixes known substitution errors line by line.
type PostProcessor struct {
	Replacements []Replacement
}

// NewPostProcessor returns a PostProcessor with DefaultReplacements.
func NewPostProcessor() PostProcessor {
	return PostProcessor{Replacements: DefaultReplacements}
}

// maxPasses bounds the fixpoint loop in Clean.
const maxPasses = 16

// Clean applies the replacement table to each line until it stops changing,
// trims it and drops lines that end up empty. Cleaning cleaned text is a no-op.
func (p PostProcessor) Clean(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = p.replace(line)
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (p PostProcessor) replace(line string) string {
	for pass := 0; pass < maxPasses; pass++ {
		before := line
		for _, r := range p.Replacements {
			line = strings.ReplaceAll(line, r.From, r.To)
		}
		if line == before {
			break
		}
	}
	return line
}

// CleanText splits text into lines, cleans them and joins them again.
func (p PostProcessor) CleanText(text string) string {
	return strings.Join(p.Clean(strings.Split(text, "\n")), "\n")
}

// DedupeLines trims lines, drops empty ones and keeps only the first
// occurrence of each, preserving order.
func DedupeLines(text string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
