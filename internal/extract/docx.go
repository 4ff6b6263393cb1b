package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// extractDOCX joins the paragraphs of word/document.xml with newlines.
func extractDOCX(doc document) (outcome, error) {
	zr, err := zip.NewReader(bytes.NewReader(doc.content), int64(len(doc.content)))
	if err != nil {
		return outcome{}, err
	}

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return outcome{}, err
		}
		defer rc.Close()

		paragraphs, err := docxParagraphs(rc)
		if err != nil {
			return outcome{}, err
		}
		return outcome{text: strings.Join(paragraphs, "\n"), message: "Text extracted from DOCX"}, nil
	}
	return outcome{}, errors.New("package has no " + docxBody)
}

// docxParagraphs walks the WordprocessingML token stream. Runs (w:t) are
// concatenated within a paragraph (w:p); w:tab and w:br become a tab and a newline.
// A paragraph nested in another (text boxes, for example) is emitted when it
// closes, and the enclosing paragraph keeps the text collected around it.
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		open       []*strings.Builder
		inText     bool
	)
	current := func() *strings.Builder {
		if len(open) == 0 {
			return nil
		}
		return open[len(open)-1]
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				open = append(open, &strings.Builder{})
			case "t":
				inText = true
			case "tab":
				if b := current(); b != nil {
					b.WriteByte('\t')
				}
			case "br", "cr":
				if b := current(); b != nil {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if b := current(); b != nil {
					paragraphs = append(paragraphs, b.String())
					open = open[:len(open)-1]
				}
			}
		case xml.CharData:
			if b := current(); inText && b != nil {
				b.Write(t)
			}
		}
	}
	return paragraphs, nil
}
