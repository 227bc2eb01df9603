// Package privacy scrubs secrets from text before it leaves the process.
package privacy

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// minSecretLen keeps trivially short values from blanking unrelated text.
const minSecretLen = 6

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Apply replaces all matches of the compiled patterns in text with [REDACTED].
func Apply(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Redactor replaces known secret values and pattern matches.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor builds a redactor for literal secrets (API tokens resolved from
// the environment) and user patterns. Empty and very short secrets are skipped.
func NewRedactor(secrets, patterns []string) (*Redactor, error) {
	compiled, err := Compile(patterns)
	if err != nil {
		return nil, err
	}
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if len(s) < minSecretLen {
			continue
		}
		compiled = append(compiled, regexp.MustCompile(regexp.QuoteMeta(s)))
	}
	return &Redactor{patterns: compiled}, nil
}

// Empty reports whether r would never change its input.
func (r *Redactor) Empty() bool { return r == nil || len(r.patterns) == 0 }

func (r *Redactor) String(s string) string {
	if r.Empty() {
		return s
	}
	return Apply(s, r.patterns)
}

// Writer returns w filtered through r. Each Write is redacted as a whole, so
// callers should write complete records, as zerolog does.
func (r *Redactor) Writer(w io.Writer) io.Writer {
	if r.Empty() {
		return w
	}
	return &redactWriter{w: w, r: r}
}

type redactWriter struct {
	w io.Writer
	r *Redactor
}

func (rw *redactWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, rw.r.String(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
