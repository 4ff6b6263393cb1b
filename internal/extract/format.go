package extract

import (
	"path/filepath"
	"strings"
)

// Format is the closed set of document kinds the dispatcher understands.
type Format int

const (
	FormatUnsupported Format = iota
	FormatImage
	FormatVideo
	FormatPDF
	FormatDOCX
	FormatExcel
	FormatText
)

var formatNames = map[Format]string{
	FormatUnsupported: "unsupported",
	FormatImage:       "image",
	FormatVideo:       "video",
	FormatPDF:         "pdf",
	FormatDOCX:        "docx",
	FormatExcel:       "excel",
	FormatText:        "text",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unsupported"
}

var extensions = map[string]Format{
	"png":  FormatImage,
	"jpg":  FormatImage,
	"jpeg": FormatImage,
	"tiff": FormatImage,
	"bmp":  FormatImage,
	"gif":  FormatImage,
	"webp": FormatImage,
	"mp4":  FormatVideo,
	"avi":  FormatVideo,
	"mov":  FormatVideo,
	"mkv":  FormatVideo,
	"pdf":  FormatPDF,
	"docx": FormatDOCX,
	"xlsx": FormatExcel,
	"xls":  FormatExcel,
	"csv":  FormatText,
	"txt":  FormatText,
}

// Extension returns the lowercase text after the last dot of the base name, or
// the whole lowercase base name when it has no dot.
func Extension(filename string) string {
	base := strings.ToLower(filepath.Base(filename))
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return base[i+1:]
	}
	return base
}

// FormatOf classifies filename by extension.
func FormatOf(filename string) (Format, string) {
	ext := Extension(filename)
	return extensions[ext], ext
}

// SupportedExtensions lists every recognized extension.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	return out
}
