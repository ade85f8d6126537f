package engine

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// ResolvePath resolves p against the directory of the script at from. A
// leading slash anchors p at the project root. The result is cleaned and
// slash-separated; "." is the root itself. Paths that leave the project root
// are reported as NOT_FOUND.
func ResolvePath(from, p string) (string, error) {
	if p == "" {
		return "", NewInvalidArgumentError("path is empty")
	}
	p = strings.ReplaceAll(p, "\\", "/")

	var joined string
	if strings.HasPrefix(p, "/") {
		joined = path.Join(".", strings.TrimLeft(p, "/"))
	} else {
		joined = path.Join(path.Dir(from), p)
	}

	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", NewNotFoundError(p).WithDetail("reason", "path escapes the project root")
	}
	return joined, nil
}

// CleanOutputName validates a write_output name and returns its cleaned form.
func CleanOutputName(name string) (string, error) {
	if name == "" {
		return "", NewInvalidArgumentError("output name is empty")
	}
	if !utf8.ValidString(name) {
		return "", NewInvalidArgumentError(fmt.Sprintf("output name %q is not valid UTF-8", name))
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", NewInvalidArgumentError("output name must be relative: " + name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", NewInvalidArgumentError("output name leaves the output directory: " + name)
	}
	return cleaned, nil
}
