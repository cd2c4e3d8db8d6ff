// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/farmtrace-backend/internal/i18n"
)

func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("lang", preferredLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// preferredLanguage picks the first supported entry of an Accept-Language
// header such as "sw-KE,sw;q=0.9,en;q=0.8".
func preferredLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		subtags := strings.FieldsFunc(strings.Split(part, ";")[0], func(r rune) bool {
			return r == '-' || r == '_' || r == ' '
		})
		if len(subtags) == 0 {
			continue
		}
		base := strings.ToLower(subtags[0])
		if i18n.Supported(base) {
			return base
		}
	}
	return i18n.DefaultLanguage()
}
