package safety

import (
	"fmt"
	"path"
	"strings"
)

// CleanResourcePath normalizes a slash-separated resource path relative to a
// base URL. Leading slashes are dropped so the result always joins under the
// base; parent segments that would climb above it are rejected.
func CleanResourcePath(p string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(p), "/")
	if trimmed == "" {
		return "", fmt.Errorf("resource path is empty")
	}

	clean := path.Clean(trimmed)
	if clean == "." {
		return "", fmt.Errorf("resource path resolves to current directory: %q", p)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("parent traversal is not allowed: %q", p)
	}
	if strings.HasSuffix(trimmed, "/") {
		clean += "/"
	}
	return clean, nil
}
