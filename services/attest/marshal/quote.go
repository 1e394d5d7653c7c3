// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package marshal

import (
	"fmt"
	"strings"
	"unicode"
)

func escapeRune(b *strings.Builder, r rune, quote rune) {
	switch r {
	case '\\':
		b.WriteString(`\\`)
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	case 0:
		b.WriteString(`\0`)
	case quote:
		b.WriteRune('\\')
		b.WriteRune(r)
	default:
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		} else {
			fmt.Fprintf(b, `\u{%x}`, r)
		}
	}
}

// QuoteString renders s as a Rust string literal.
func QuoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		escapeRune(&b, r, '"')
	}
	b.WriteByte('"')
	return b.String()
}

// quoteChar renders a character literal.
func quoteChar(r rune) string {
	var b strings.Builder
	b.WriteByte('\'')
	escapeRune(&b, r, '\'')
	b.WriteByte('\'')
	return b.String()
}
