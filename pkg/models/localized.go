package models

import "strings"

// LocalizedString maps a language code ("en", "ja-ro", ...) to text.
type LocalizedString map[string]string

// Get returns the trimmed value for lang, or "" when missing.
func (l LocalizedString) Get(lang string) string {
	if l == nil {
		return ""
	}
	return strings.TrimSpace(l[lang])
}

// Or returns the value for lang, or fallback when the key is missing or blank.
func (l LocalizedString) Or(lang, fallback string) string {
	if v := l.Get(lang); v != "" {
		return v
	}
	return fallback
}
