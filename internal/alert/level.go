package alert

import (
	"fmt"
	"strings"
)

// Level is the ordinal severity of a decision: none < low < medium < high.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

var levelNames = [...]string{"none", "low", "medium", "high"}

func (l Level) String() string {
	if l < LevelNone || l > LevelHigh {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel is the inverse of String.
func ParseLevel(v string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return Level(i), nil
		}
	}
	return LevelNone, fmt.Errorf("unknown alert level %q", v)
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
