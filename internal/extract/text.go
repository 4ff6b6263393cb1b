package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// extractText decodes CSV and TXT files as UTF-8, falling back to Latin-1.
func extractText(doc document) (outcome, error) {
	label := strings.ToUpper(doc.ext)
	if utf8.Valid(doc.content) {
		return outcome{
			text:    string(doc.content),
			message: fmt.Sprintf("Text extracted from %s", label),
		}, nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(doc.content)
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		text:    string(decoded),
		message: fmt.Sprintf("Text extracted from %s (latin-1 encoding)", label),
	}, nil
}
