// internal/config/database.go
package config

import (
	"strings"
)

// DSN is the libpq keyword/value connection string for the gorm postgres
// driver. Empty settings are left out so libpq defaults apply.
func (d *DatabaseConfig) DSN() string {
	pairs := [][2]string{
		{"host", d.Host},
		{"port", d.Port},
		{"user", d.User},
		{"password", d.Password},
		{"dbname", d.Database},
		{"sslmode", d.SSLMode},
		{"application_name", "farmtrace"},
		{"connect_timeout", "10"},
		{"TimeZone", "UTC"},
	}

	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+"="+quoteDSNValue(kv[1]))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
