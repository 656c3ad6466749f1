package record

import (
	"fmt"
	"maps"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Friendly turns an internal token such as "postgresql_server" into a
// readable phrase such as "Postgresql Server".
func Friendly(token string) string {
	words := strings.Fields(strings.ReplaceAll(token, "_", " "))
	// cases.Caser is stateful, one per call
	caser := cases.Title(language.English)
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// Merge returns a new map holding base with overrides applied on top.
// Neither argument is modified.
func Merge(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	maps.Copy(out, base)
	maps.Copy(out, overrides)
	return out
}

// Text renders a record value for use in a sentence. Null renders empty.
func Text(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
