package i18n

import (
	"net/http"
	"strings"
)

const DefaultLocale = "en"

var supportedLocales = map[string]struct{}{
	"en": {},
	"de": {},
}

// LocaleFromRequest prefers an explicit ?lang= query value and falls back to
// Accept-Language.
func LocaleFromRequest(r *http.Request) string {
	if r == nil {
		return DefaultLocale
	}
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return NormalizeLocale(lang)
	}
	return NormalizeLocale(r.Header.Get("Accept-Language"))
}

// NormalizeLocale returns the first supported base language in an
// Accept-Language style list, or DefaultLocale.
func NormalizeLocale(header string) string {
	for _, part := range strings.Split(header, ",") {
		lang, _, _ := strings.Cut(part, ";")
		lang, _, _ = strings.Cut(strings.ToLower(strings.TrimSpace(lang)), "-")
		lang = strings.TrimSpace(lang)
		if _, ok := supportedLocales[lang]; ok {
			return lang
		}
	}
	return DefaultLocale
}
