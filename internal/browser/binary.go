package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// ErrBinaryNotFound is returned when no Chrome or Chromium executable can be located.
var ErrBinaryNotFound = errors.New("no chrome or chromium executable found")

var binaryCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// FindBinary resolves the browser executable. A configured value may be a path
// (with ~ expansion) or a name looked up on PATH; otherwise well known names are tried.
func FindBinary(configured string) (string, error) {
	if configured != "" {
		expanded, err := homedir.Expand(configured)
		if err != nil {
			return "", fmt.Errorf("expanding browser binary path: %w", err)
		}
		if strings.ContainsRune(expanded, os.PathSeparator) {
			if _, err := os.Stat(expanded); err != nil {
				return "", fmt.Errorf("browser binary %q: %w", expanded, err)
			}
			return expanded, nil
		}
		path, err := exec.LookPath(expanded)
		if err != nil {
			return "", fmt.Errorf("browser binary %q: %w", expanded, err)
		}
		return path, nil
	}

	for _, name := range binaryCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrBinaryNotFound
}
