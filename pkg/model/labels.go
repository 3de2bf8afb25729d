package model

import (
	"strings"
	"unicode"
)

// DefaultLabeler turns a field name such as "razaoSocial" or "image_file"
// into "Razao Social" / "Image File". It is rune-aware so accented names
// survive.
func DefaultLabeler(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, titleWord(current))
			current = current[:0]
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case i > 0 && wordBoundary(runes[i-1], r):
			flush()
		}
		current = append(current, r)
	}
	flush()
	return strings.Join(words, " ")
}

func wordBoundary(prev, r rune) bool {
	switch {
	case unicode.IsLower(prev) && unicode.IsUpper(r):
		return true
	case unicode.IsLetter(prev) && unicode.IsDigit(r):
		return true
	case unicode.IsDigit(prev) && unicode.IsLetter(r):
		return true
	}
	return false
}

func titleWord(word []rune) string {
	out := make([]rune, len(word))
	for i, r := range word {
		if i == 0 {
			out[i] = unicode.ToUpper(r)
			continue
		}
		out[i] = unicode.ToLower(r)
	}
	return string(out)
}
