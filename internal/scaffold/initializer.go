// Package scaffold writes a starter gambit.yml for `gambit init`.
package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dyluth/gambit/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the name of the file Initialize writes.
const ConfigFile = "gambit.yml"

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// Initialize writes gambit.yml into dir for the given namespace and checks
// that it loads. With force an existing file is replaced.
func Initialize(dir, namespace string, force bool, w io.Writer) (string, error) {
	if !namespacePattern.MatchString(namespace) {
		return "", fmt.Errorf("invalid namespace %q: use lowercase letters, digits and dashes", namespace)
	}

	path := filepath.Join(dir, ConfigFile)
	if force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(w, "⚠️  Removing existing %s...\n", ConfigFile)
			if err := os.Remove(path); err != nil {
				return "", fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
			}
		}
	} else if err := CheckExisting(dir); err != nil {
		return "", err
	}

	tmpl, err := templatesFS.ReadFile("templates/gambit.yml.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to read %s template: %w", ConfigFile, err)
	}
	content := strings.ReplaceAll(string(tmpl), "{{NAMESPACE}}", namespace)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s does not load: %w", ConfigFile, err)
	}
	return path, nil
}

// PrintSuccess prints the created file and next steps.
func PrintSuccess(w io.Writer, path string) {
	fmt.Fprintln(w, "\n✅ Successfully initialized Gambit configuration!")
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", path)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Describe your actors under capabilities.actors (or point capabilities at a remote provider)")
	fmt.Fprintln(w, "  2. Start the orchestrator:")
	fmt.Fprintf(w, "       REDIS_URL=redis://localhost:6379 GAMBIT_CONFIG=%s orchestrator\n", path)
	fmt.Fprintln(w, "  3. Create a session: gambit session create")
}
