package grid

import (
	"regexp"
	"strings"
	"sync"
)

// Kind is the classification of a fetch outcome. Classify only ever
// returns SchemaMismatch or Operational.
type Kind int

const (
	// Operational failures are surfaced to the user as an error message.
	Operational Kind = iota
	// SchemaMismatch means the selection no longer fits the object; rendered
	// as the empty placeholder, never as a message.
	SchemaMismatch
	// Empty is a valid fetch that returned no rows.
	Empty
	// Populated is a valid fetch that returned rows.
	Populated
)

func (k Kind) String() string {
	switch k {
	case SchemaMismatch:
		return "schema_mismatch"
	case Empty:
		return "empty"
	case Populated:
		return "populated"
	default:
		return "operational"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// DefaultSchemaMismatchPhrases are the backend error patterns that signal
// the selected fields or object are not queryable. Bare "does not exist"
// also covers missing roles and databases, so those phrasings are anchored
// on the column, relation or table they name.
var DefaultSchemaMismatchPhrases = []string{
	"no such column",
	"no such table",
	"no such collection",
	"unknown column",
	"object not allowed",
	"invalid field",
	`column "[^"]*"( of relation "[^"]*")? does not exist`,
	`relation "[^"]*" does not exist`,
	`table '[^']*' doesn't exist`,
}

// ErrorClassifier maps backend failures to a Kind. Each phrase is a
// case-insensitive regular expression; a phrase that does not compile is
// matched literally. The phrase list can be swapped at runtime.
type ErrorClassifier struct {
	mu       sync.RWMutex
	phrases  []string
	patterns []*regexp.Regexp
}

// NewErrorClassifier uses DefaultSchemaMismatchPhrases when phrases is empty.
func NewErrorClassifier(phrases ...string) *ErrorClassifier {
	c := &ErrorClassifier{}
	c.SetPhrases(phrases)
	return c
}

// SetPhrases replaces the match list. An empty list restores the defaults.
func (c *ErrorClassifier) SetPhrases(phrases []string) {
	if len(phrases) == 0 {
		phrases = DefaultSchemaMismatchPhrases
	}
	kept := make([]string, 0, len(phrases))
	patterns := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(p))
		}
		kept = append(kept, p)
		patterns = append(patterns, re)
	}
	c.mu.Lock()
	c.phrases = kept
	c.patterns = patterns
	c.mu.Unlock()
}

// Phrases returns the active match list.
func (c *ErrorClassifier) Phrases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.phrases...)
}

// Classify returns SchemaMismatch when err's message matches a known
// phrase and Operational otherwise, including for nil.
func (c *ErrorClassifier) Classify(err error) Kind {
	if err == nil {
		return Operational
	}
	return c.ClassifyMessage(err.Error())
}

// ClassifyMessage is Classify for a bare message.
func (c *ErrorClassifier) ClassifyMessage(msg string) Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, re := range c.patterns {
		if re.MatchString(msg) {
			return SchemaMismatch
		}
	}
	return Operational
}
