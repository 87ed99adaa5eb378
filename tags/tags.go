// Package tags builds the validated tag set attached to every profile upload.
package tags

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// MaxLength is the longest "name:value" tag accepted by the intake.
const MaxLength = 200

var errEmptyName = errors.New("tag key was empty")

// Pair is an unvalidated tag as handed over by the caller.
type Pair struct {
	Name  string
	Value string
}

// Tag is a validated tag.
type Tag struct {
	name  string
	value string
}

// New validates name and value and returns the resulting Tag.
func New(name, value string) (Tag, error) {
	if name == "" {
		return Tag{}, errEmptyName
	}
	t := Tag{name: name, value: value}
	s := t.String()
	if strings.HasPrefix(s, ":") || strings.HasSuffix(s, ":") {
		return Tag{}, fmt.Errorf("tag %q begins or ends with a colon", s)
	}
	if n := utf8.RuneCountInString(s); n > MaxLength {
		return Tag{}, fmt.Errorf("tag %q is %d characters long, the limit is %d", s, n, MaxLength)
	}
	return t, nil
}

// String returns the tag in name:value form.
func (t Tag) String() string {
	return t.name + ":" + t.value
}

// Set is an ordered collection of tags.
type Set []Tag

// Strings returns every tag in name:value form, in order.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = t.String()
	}
	return out
}

// Reporter receives one message per tag that could not be added to a Set.
type Reporter interface {
	FailedToProcessTag(msg string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(msg string)

func (f ReporterFunc) FailedToProcessTag(msg string) { f(msg) }

// LogReporter reports rejected tags as warnings.
var LogReporter = ReporterFunc(func(msg string) {
	log.Warnf("Failed to add tag to profiling request: %s", msg)
})

// Build converts pairs into a Set. Invalid tags and exact duplicates are
// reported to r and skipped; Build itself never fails.
func Build(pairs []Pair, r Reporter) Set {
	if r == nil {
		r = LogReporter
	}
	set := make(Set, 0, len(pairs))
	seen := make(map[Tag]struct{}, len(pairs))
	for _, p := range pairs {
		t, err := New(p.Name, p.Value)
		if err != nil {
			r.FailedToProcessTag(err.Error())
			continue
		}
		if _, dup := seen[t]; dup {
			r.FailedToProcessTag(fmt.Sprintf("duplicate tag %q", t.String()))
			continue
		}
		seen[t] = struct{}{}
		set = append(set, t)
	}
	return set
}

// Parse splits a "key=value" or "key:value" string into a Pair. The first
// separator wins, so values may contain either character.
func Parse(s string) (Pair, bool) {
	i := strings.IndexAny(s, "=:")
	if i < 0 {
		return Pair{}, false
	}
	return Pair{Name: strings.TrimSpace(s[:i]), Value: strings.TrimSpace(s[i+1:])}, true
}
