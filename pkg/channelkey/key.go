// Package channelkey derives realtime channel identifiers for books.
//
// All readers discussing the same physical book converge on one channel
// because the identifier is a pure function of the normalized ISBN.
package channelkey

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	isbnPrefix  = "book-isbn-"
	titlePrefix = "book-"
)

// NormalizeKey strips hyphens and whitespace from an ISBN and upper-cases it.
// The result is empty for blank input and NormalizeKey(NormalizeKey(x)) == NormalizeKey(x).
func NormalizeKey(isbn string) string {
	var b strings.Builder
	b.Grow(len(isbn))
	for _, r := range isbn {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ChannelIDForISBN returns the channel id for isbn, or false when the
// normalized key is empty.
func ChannelIDForISBN(isbn string) (string, bool) {
	key := NormalizeKey(isbn)
	if key == "" {
		return "", false
	}
	return isbnPrefix + key, true
}

// IsISBNChannel reports whether id was derived from an ISBN.
func IsISBNChannel(id string) bool {
	return strings.HasPrefix(id, isbnPrefix) && len(id) > len(isbnPrefix)
}

// ISBNFromChannelID extracts the normalized ISBN from an ISBN channel id.
func ISBNFromChannelID(id string) (string, bool) {
	if !IsISBNChannel(id) {
		return "", false
	}
	return strings.TrimPrefix(id, isbnPrefix), true
}

// ChannelIDForTitle returns the legacy title-based channel id.
// It is kept for channels created before ISBN keys existed.
func ChannelIDForTitle(title string) (string, bool) {
	slug := Slugify(title)
	if slug == "" {
		return "", false
	}
	return titlePrefix + slug, true
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lower-cases s, removes accents, drops anything outside [a-z0-9 -],
// turns whitespace runs into '-' and collapses repeated '-'.
func Slugify(s string) string {
	folded, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			pendingSep = true
		}
	}
	return b.String()
}
