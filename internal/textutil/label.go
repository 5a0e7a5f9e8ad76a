package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Label turns a token such as "relax_fastrelax" into "Relax Fastrelax".
func Label(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	words := strings.FieldsFunc(token, func(r rune) bool { return r == '_' || r == '-' })
	return cases.Title(language.Und).String(strings.Join(words, " "))
}
