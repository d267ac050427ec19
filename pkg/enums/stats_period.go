package enums

import (
	"fmt"
	"time"
)

// StatsPeriod is a rolling reporting window.
type StatsPeriod string

const (
	StatsPeriod7d  StatsPeriod = "7d"
	StatsPeriod30d StatsPeriod = "30d"
	StatsPeriod90d StatsPeriod = "90d"
	StatsPeriod1y  StatsPeriod = "1y"
)

var validStatsPeriods = []StatsPeriod{
	StatsPeriod7d,
	StatsPeriod30d,
	StatsPeriod90d,
	StatsPeriod1y,
}

func (p StatsPeriod) IsValid() bool {
	for _, candidate := range validStatsPeriods {
		if candidate == p {
			return true
		}
	}
	return false
}

// Since returns the start of the window ending at now.
func (p StatsPeriod) Since(now time.Time) time.Time {
	switch p {
	case StatsPeriod7d:
		return now.AddDate(0, 0, -7)
	case StatsPeriod90d:
		return now.AddDate(0, 0, -90)
	case StatsPeriod1y:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, 0, -30)
	}
}

// ParseStatsPeriod converts raw input, defaulting empty input to 30d.
func ParseStatsPeriod(value string) (StatsPeriod, error) {
	if value == "" {
		return StatsPeriod30d, nil
	}
	for _, candidate := range validStatsPeriods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stats period %q", value)
}
