// internal/health/health.go
package health

import (
	"encoding/json"
	"fmt"
	"time"
)

// Level is a health level. The zero value is Healthy.
type Level int

const (
	Healthy Level = iota
	Degraded
	Unhealthy
	Critical
)

var levelNames = map[Level]string{
	Healthy:   "healthy",
	Degraded:  "degraded",
	Unhealthy: "unhealthy",
	Critical:  "critical",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel parses a level name
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return Healthy, fmt.Errorf("unknown health level %q", s)
}

// MarshalJSON encodes the level by name
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Severity orders levels, higher is worse
func (l Level) Severity() int {
	return int(l)
}

// Score maps a level to its fixed 0-100 score
func (l Level) Score() float64 {
	switch l {
	case Healthy:
		return 100
	case Degraded:
		return 70
	case Unhealthy:
		return 40
	default:
		return 0
	}
}

// Ready reports whether a component at this level can still serve
func (l Level) Ready() bool {
	return l == Healthy || l == Degraded
}

// Worse returns the more severe of two levels
func Worse(a, b Level) Level {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Component is one named input to the scorer
type Component struct {
	Name    string         `json:"name"`
	Level   Level          `json:"level"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Status is the folded result
type Status struct {
	Level      Level       `json:"level"`
	Score      float64     `json:"score"`
	Components []Component `json:"components"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Fold combines components into an overall level (the worst present) and a
// score (mean of the per-level scores). An empty input is healthy with 100.
func Fold(components []Component) Status {
	status := Status{
		Level:      Healthy,
		Score:      100,
		Components: append([]Component(nil), components...),
		CheckedAt:  time.Now(),
	}
	if len(components) == 0 {
		return status
	}

	total := 0.0
	for _, c := range components {
		status.Level = Worse(status.Level, c.Level)
		total += c.Level.Score()
	}
	status.Score = total / float64(len(components))
	return status
}

// Component returns the named component
func (s Status) Component(name string) (Component, bool) {
	for _, c := range s.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Ready reports per-component readiness
func (s Status) Ready() map[string]bool {
	ready := make(map[string]bool, len(s.Components))
	for _, c := range s.Components {
		ready[c.Name] = c.Level.Ready()
	}
	return ready
}

// Issues lists messages of components that are not healthy
func (s Status) Issues() []string {
	var issues []string
	for _, c := range s.Components {
		if c.Level == Healthy {
			continue
		}
		msg := c.Message
		if msg == "" {
			msg = c.Level.String()
		}
		issues = append(issues, fmt.Sprintf("%s: %s", c.Name, msg))
	}
	return issues
}

// NeedsAttention is true for unhealthy and critical
func (s Status) NeedsAttention() bool {
	return s.Level.Severity() >= Unhealthy.Severity()
}

// FromSuccessRate maps a success percentage with thresholds 95/80/50
func FromSuccessRate(rate float64) Level {
	switch {
	case rate >= 95:
		return Healthy
	case rate >= 80:
		return Degraded
	case rate >= 50:
		return Unhealthy
	default:
		return Critical
	}
}

// FromUsagePercent maps storage usage with thresholds 70/85/95
func FromUsagePercent(pct float64) Level {
	switch {
	case pct < 70:
		return Healthy
	case pct < 85:
		return Degraded
	case pct < 95:
		return Unhealthy
	default:
		return Critical
	}
}
