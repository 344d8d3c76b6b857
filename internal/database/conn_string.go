package database

import (
	"fmt"
	"net/url"

	"github.com/dkrauss/wirefeed/internal/config"
)

// BuildConnString assembles the postgres:// URL pgx dials with.
// Credentials go through url.UserPassword so passwords containing
// reserved characters survive intact. An unset ssl_mode falls back to
// "prefer".
func BuildConnString(cfg config.DBConfig) string {
	mode := cfg.SSLMode
	if mode == "" {
		mode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", mode)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
