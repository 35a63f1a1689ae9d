package sqlite

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const dsnScheme = "sqlite://"

// parseDSN maps a sqlite:// DSN onto the path string the driver expects.
// Bare relative paths gain a ./ prefix so the driver never mistakes them for
// URI options; driver query parameters pass through untouched.
func parseDSN(dsn string) (string, error) {
	rest, ok := strings.CutPrefix(dsn, dsnScheme)
	if !ok {
		return "", fmt.Errorf("dsn %q: expected %s scheme", dsn, dsnScheme)
	}

	if rest == ":memory:" {
		return rest, nil
	}

	path, query, hasQuery := strings.Cut(rest, "?")
	path, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("unescaping sqlite path: %w", err)
	}

	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "./") {
		path = "./" + path
	}
	if hasQuery {
		path += "?" + query
	}
	return path, nil
}
