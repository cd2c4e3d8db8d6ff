package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "localhost",
		Port:     "5432",
		User:     "farmtrace",
		Password: `it's a secret`,
		Database: "farmtrace",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		`host=localhost port=5432 user=farmtrace password='it\'s a secret' dbname=farmtrace sslmode=disable application_name=farmtrace connect_timeout=10 TimeZone=UTC`,
		d.DSN())
}

func TestDSNSkipsEmptySettings(t *testing.T) {
	d := DatabaseConfig{Host: "db", Database: "farmtrace"}
	assert.Equal(t, "host=db dbname=farmtrace application_name=farmtrace connect_timeout=10 TimeZone=UTC", d.DSN())
}
