// Package envfile provides line-oriented editing of KEY=value environment
// files. Edits rewrite single lines in place, preserving comments, blank
// lines, and declaration order; parsing for reads goes through godotenv.
package envfile

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Editor reads and rewrites KEY=value lines in environment files.
type Editor struct{}

// NewEditor creates an environment file editor.
func NewEditor() *Editor {
	return &Editor{}
}

// ReadAll parses every variable in the file. A missing file yields an
// empty map.
func (e *Editor) ReadAll(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	return values, nil
}

// GetKeyValue returns the value of name in the file. The second return is
// false when the variable is not declared.
func (e *Editor) GetKeyValue(path, name string) (string, bool, error) {
	values, err := e.ReadAll(path)
	if err != nil {
		return "", false, err
	}
	value, ok := values[name]
	return value, ok, nil
}

// UpdateKeyValue overwrites the variable's line in place, or appends a new
// line when the variable is not yet declared. The file is created if absent.
func (e *Editor) UpdateKeyValue(path, name, value string) error {
	lines, trailingNewline, err := readLines(path)
	if err != nil {
		return err
	}

	replaced := false
	for i, line := range lines {
		if declaresKey(line, name) {
			lines[i] = fmt.Sprintf("%s=%s", name, value)
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, fmt.Sprintf("%s=%s", name, value))
		trailingNewline = true
	}

	return writeLines(path, lines, trailingNewline)
}

// HasKey reports whether the file declares the variable, without parsing
// values.
func (e *Editor) HasKey(path, name string) (bool, error) {
	lines, _, err := readLines(path)
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if declaresKey(line, name) {
			return true, nil
		}
	}
	return false, nil
}

func declaresKey(line, name string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	// Accept the optional "export " prefix some env files carry.
	trimmed = strings.TrimPrefix(trimmed, "export ")
	eq := strings.Index(trimmed, "=")
	if eq < 0 {
		return false
	}
	return strings.TrimSpace(trimmed[:eq]) == name
}

func readLines(path string) ([]string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, true, nil
		}
		return nil, false, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	content := string(data)
	trailingNewline := strings.HasSuffix(content, "\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return []string{}, true, nil
	}
	return strings.Split(content, "\n"), trailingNewline, nil
}

func writeLines(path string, lines []string, trailingNewline bool) error {
	content := strings.Join(lines, "\n")
	if trailingNewline && content != "" {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write env file %s: %w", path, err)
	}
	return nil
}
