package warnings

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/convergekit/converge/resource"
)

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Warning is one diagnostic event: a duplicate identifier, an
// authorization gap, a fatal inner error. High severity flips a purge
// run's "fully purged" rollup to false.
type Warning struct {
	Severity   Severity
	Kind       resource.Kind
	Identifier resource.Identifier
	Message    string
	Err        error
}

// Collector accumulates warnings across a run. Safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	items []Warning
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Add(warning Warning) {
	if c == nil {
		return
	}

	event := log.Warn()
	if warning.Severity == SeverityHigh {
		event = log.Error()
	}
	event.
		Str("severity", warning.Severity.String()).
		Str("kind", warning.Kind.String()).
		Str("identifier", warning.Identifier.String()).
		Err(warning.Err).
		Msg(warning.Message)

	c.mu.Lock()
	c.items = append(c.items, warning)
	c.mu.Unlock()
}

func (c *Collector) List() []Warning {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Warning{}, c.items...)
}

func (c *Collector) HasHighSeverity() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, warning := range c.items {
		if warning.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
