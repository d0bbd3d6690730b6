// Package template formats output filenames from user-configured patterns.
//
// Patterns reference variables as {var}; a trailing question mark ({var?})
// marks the variable optional, dropping it silently when absent. Example:
//
//	{title}.{year}.{quality?}.{source}-{tag}
package template

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	variableRef    = regexp.MustCompile(`\{([^}]+)\}`)
	multiDots      = regexp.MustCompile(`\.{2,}`)
	multiSpaces    = regexp.MustCompile(`\s{2,}`)
	edgeSeparators = regexp.MustCompile(`^[.\s]+|[.\s]+$`)
	dotBeforeDash  = regexp.MustCompile(`\.-`)
	sepBeforeParen = regexp.MustCompile(`[.\s]+\)`)
	structural     = regexp.MustCompile(`[:; ]`)
	unsafeChars    = regexp.MustCompile("[\\\\*!?¿,'\"()<>|$#~]")
)

// Formatter substitutes variables into a single filename pattern.
type Formatter struct {
	pattern   string
	variables []string
}

// New parses a pattern into a Formatter.
func New(pattern string) *Formatter {
	var variables []string
	for _, match := range variableRef.FindAllStringSubmatch(pattern, -1) {
		variables = append(variables, strings.TrimSpace(match[1]))
	}
	return &Formatter{pattern: pattern, variables: variables}
}

// Required returns the non-optional variable names the pattern references.
func (f *Formatter) Required() []string {
	var required []string
	for _, v := range f.variables {
		if !strings.HasSuffix(v, "?") {
			required = append(required, v)
		}
	}
	return required
}

// Optional returns the optional variable names the pattern references.
func (f *Formatter) Optional() []string {
	var optional []string
	for _, v := range f.variables {
		if strings.HasSuffix(v, "?") {
			optional = append(optional, strings.TrimSuffix(v, "?"))
		}
	}
	return optional
}

// Validate reports the required variables missing from vars.
func (f *Formatter) Validate(vars map[string]string) error {
	var missing []string
	for _, name := range f.Required() {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Format substitutes vars into the pattern and returns a sanitized filename.
// Optional variables with empty values vanish; empty required variables leave
// a gap that the separator cleanup collapses.
func (f *Formatter) Format(vars map[string]string) string {
	result := f.pattern

	for _, variable := range f.variables {
		placeholder := "{" + variable + "}"
		name := strings.TrimSuffix(variable, "?")
		result = strings.ReplaceAll(result, placeholder, vars[name])
	}

	result = multiDots.ReplaceAllString(result, ".")
	result = multiSpaces.ReplaceAllString(result, " ")
	result = edgeSeparators.ReplaceAllString(result, "")
	result = dotBeforeDash.ReplaceAllString(result, "-")
	result = sepBeforeParen.ReplaceAllString(result, ")")

	// Space-based patterns (media-server friendly) keep spaces; dot-based
	// scene-style patterns space everything with dots.
	spacer := "."
	if strings.Contains(f.pattern, " ") && !strings.Contains(f.pattern, ".") {
		spacer = " "
	}
	return SanitizeFilename(result, spacer)
}

// SanitizeFilename makes a string safe for use as a filename. The spacer
// replaces structural characters; "." travels better across DDL and p2p
// surfaces than " ".
func SanitizeFilename(name, spacer string) string {
	name = asciiFold(name)
	name = strings.ReplaceAll(name, "/", " & ")
	name = strings.ReplaceAll(name, ";", " & ")
	name = structural.ReplaceAllString(name, spacer)
	name = unsafeChars.ReplaceAllString(name, "")

	collapse := regexp.MustCompile(regexp.QuoteMeta(spacer) + "{2,}")
	return collapse.ReplaceAllString(name, spacer)
}

// asciiFold strips combining marks so accented characters degrade to their
// base letters ("é" -> "e").
func asciiFold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
