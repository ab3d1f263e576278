// Package config loads the optional YAML file behind cratesio-perf run.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// MissingEnvError reports a ${VAR:?message} reference whose variable was
// unset or empty.
type MissingEnvError struct {
	Name    string
	Message string
}

func (e *MissingEnvError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("environment variable %s is required", e.Name)
	}
	return fmt.Sprintf("environment variable %s is required: %s", e.Name, e.Message)
}

// ExpandEnv substitutes environment references in input.
//
// An unset or empty variable expands to its :- default, or to the empty
// string. A :? reference to an unset or empty variable is an error; every
// such reference is reported.
func ExpandEnv(input string) (string, error) {
	var (
		b    strings.Builder
		errs []error
		last int
	)
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		var op, arg string
		if m[4] >= 0 {
			op, arg = input[m[4]:m[5]], input[m[6]:m[7]]
		}

		if value := os.Getenv(name); value != "" {
			b.WriteString(value)
			continue
		}
		switch op {
		case ":-":
			b.WriteString(arg)
		case ":?":
			errs = append(errs, &MissingEnvError{Name: name, Message: arg})
		}
	}
	b.WriteString(input[last:])
	return b.String(), errors.Join(errs...)
}
