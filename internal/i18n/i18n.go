// Package i18n picks the response language and holds the localized API
// error messages. Japanese is the default.
package i18n

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

const (
	Japanese = "ja"
	English  = "en"

	CookieName = "i18nextLng"
	QueryParam = "lang"
	contextKey = "lang"
)

var matcher = language.NewMatcher([]language.Tag{language.Japanese, language.English})

// Negotiate returns "ja" or "en". The explicit parameter wins over the
// cookie, which wins over Accept-Language.
func Negotiate(param, cookie, acceptLanguage string) string {
	for _, v := range []string{param, cookie} {
		if v == "" {
			continue
		}
		tag, err := language.Parse(v)
		if err != nil {
			continue
		}
		if lang, ok := match(tag); ok {
			return lang
		}
	}
	if acceptLanguage != "" {
		tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
		if err == nil && len(tags) > 0 {
			if lang, ok := match(tags...); ok {
				return lang
			}
		}
	}
	return Japanese
}

func match(tags ...language.Tag) (string, bool) {
	tag, _, conf := matcher.Match(tags...)
	if conf == language.No {
		return "", false
	}
	base, _ := tag.Base()
	switch base.String() {
	case English:
		return English, true
	default:
		return Japanese, true
	}
}

// Middleware stores the negotiated language on the gin context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, _ := c.Cookie(CookieName)
		lang := Negotiate(c.Query(QueryParam), cookie, c.GetHeader("Accept-Language"))
		c.Set(contextKey, lang)
		c.Header("Content-Language", lang)
		c.Next()
	}
}

// FromContext returns the language chosen by Middleware, or Japanese.
func FromContext(c *gin.Context) string {
	if v, ok := c.Get(contextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return Japanese
}
