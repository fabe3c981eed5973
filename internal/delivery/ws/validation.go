package ws

import (
	"strings"
	"unicode"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

// sanitizeText strips control characters (keeping newlines and tabs) and caps the length in runes
func sanitizeText(s string, maxRunes int) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if n >= maxRunes {
			break
		}
		if r == unicode.ReplacementChar || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// sanitizeMetadata applies the text limits to every set field
func sanitizeMetadata(p domain.MetadataPatch) domain.MetadataPatch {
	if p.DisplayName != nil {
		// Names are single line
		name := strings.TrimSpace(strings.NewReplacer("\n", " ", "\t", " ").Replace(*p.DisplayName))
		name = sanitizeText(name, domain.MaxDisplayNameLength)
		if name == "" {
			p.DisplayName = nil
		} else {
			p.DisplayName = &name
		}
	}
	if p.Description != nil {
		desc := sanitizeText(*p.Description, domain.MaxDescriptionLength)
		p.Description = &desc
	}
	if p.TextStream != nil {
		text := sanitizeText(*p.TextStream, domain.MaxTextStreamLength)
		p.TextStream = &text
	}
	return p
}

// validPosition reports whether every set axis is a finite number
func validPosition(p domain.PositionPatch) bool {
	return p.Apply(domain.Position{}).Finite()
}
