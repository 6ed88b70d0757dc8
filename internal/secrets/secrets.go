// Package secrets resolves named secrets such as portal credentials and the
// proxy password from the environment or a YAML file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/portalpilot/internal/config"
)

// ErrNotFound is returned when no source holds the requested secret.
var ErrNotFound = errors.New("secret not found")

// Source fetches a secret by name.
type Source interface {
	FetchSecret(ctx context.Context, name string) (string, error)
}

// EnvSource reads secrets from environment variables named prefix + NAME,
// where NAME is the secret name upper-cased with other characters mapped to '_'.
type EnvSource struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvSource creates an EnvSource over the process environment.
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: prefix, lookup: os.LookupEnv}
}

// VarName returns the environment variable consulted for name.
func (s *EnvSource) VarName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
	return s.prefix + mapped
}

func (s *EnvSource) FetchSecret(_ context.Context, name string) (string, error) {
	v, ok := s.lookup(s.VarName(name))
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// FileSource serves secrets from a flat YAML mapping of name to value.
type FileSource struct {
	values map[string]string
}

// LoadFile reads a YAML secrets file. The file should be readable by the
// owner only; wider permissions are reported as an error.
func LoadFile(path string) (*FileSource, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding secrets path: %w", err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("secrets file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("secrets file %s is accessible by other users (mode %s)", expanded, info.Mode().Perm())
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("secrets file: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", expanded, err)
	}
	return &FileSource{values: values}, nil
}

func (s *FileSource) FetchSecret(_ context.Context, name string) (string, error) {
	v, ok := s.values[name]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Chain asks each source in turn and returns the first value found.
type Chain []Source

func (c Chain) FetchSecret(ctx context.Context, name string) (string, error) {
	for _, s := range c {
		v, err := s.FetchSecret(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("secret %q: %w", name, err)
		}
	}
	return "", fmt.Errorf("secret %q: %w", name, ErrNotFound)
}

// New builds the configured chain: the environment first, then the secrets
// file when one is set.
func New(cfg config.SecretsConfig) (Chain, error) {
	chain := Chain{NewEnvSource(cfg.EnvPrefix)}
	if cfg.File != "" {
		fs, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fs)
	}
	return chain, nil
}
