package config

import (
	"os"
	"strings"
)

// EnvironmentExpander expands environment variable placeholders in raw configuration.
type EnvironmentExpander interface {
	Expand(input []byte) []byte
}

// OsEnvironmentExpander expands $VAR, ${VAR} and ${VAR:-default} from the process environment.
// Unset variables without a default expand to the empty string.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates an OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand implements EnvironmentExpander.
func (e *OsEnvironmentExpander) Expand(input []byte) []byte {
	return []byte(os.Expand(string(input), lookupWithDefault))
}

func lookupWithDefault(name string) string {
	key, def, hasDefault := strings.Cut(name, ":-")
	if v, ok := os.LookupEnv(key); ok && (v != "" || !hasDefault) {
		return v
	}
	return def
}
