package resolver

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxNameBytes leaves headroom under the common 255 byte limit for the
// .part suffix used while downloading
const maxNameBytes = 240

var imageExt = regexp.MustCompile(`(?i)\.(jpe?g|png|gif)$`)

// Sanitize makes name safe to use as a single path element on Linux,
// macOS and Windows
func Sanitize(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimRight(strings.TrimSpace(name), ". ")

	if len(name) > maxNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		stem := strings.TrimSuffix(name, ext)
		stem = truncateUTF8(stem, maxNameBytes-len(ext))
		name = stem + ext
	}
	if name == "" {
		return "_"
	}
	return name
}

// WithImageExt appends .jpg unless name already ends in a jpg, jpeg, png
// or gif extension
func WithImageExt(name string) string {
	if imageExt.MatchString(name) {
		return name
	}
	return name + ".jpg"
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
