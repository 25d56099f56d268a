package capability

import (
	"fmt"

	"github.com/brutella/hap/characteristic"
)

// Category is a HomeKit arming category a Scout mode can be assigned to.
type Category string

const (
	CategoryStay  Category = "stay"
	CategoryAway  Category = "away"
	CategoryNight Category = "night"

	noCategory Category = ""
)

// Categories in tie-break order.
var Categories = []Category{CategoryStay, CategoryAway, CategoryNight}

func (c Category) targetState() int {
	switch c {
	case CategoryAway:
		return characteristic.SecuritySystemTargetStateAwayArm
	case CategoryNight:
		return characteristic.SecuritySystemTargetStateNightArm
	default:
		return characteristic.SecuritySystemTargetStateStayArm
	}
}

func (c Category) currentState() int {
	switch c {
	case CategoryAway:
		return characteristic.SecuritySystemCurrentStateAwayArm
	case CategoryNight:
		return characteristic.SecuritySystemCurrentStateNightArm
	default:
		return characteristic.SecuritySystemCurrentStateStayArm
	}
}

func categoryForTarget(state int) (Category, bool) {
	for _, c := range Categories {
		if c.targetState() == state {
			return c, true
		}
	}
	return noCategory, false
}

// ModeConfig assigns Scout mode names to arming categories.
type ModeConfig struct {
	Stay  []string
	Away  []string
	Night []string
}

// Names returns the mode names of a category, in configuration order.
func (m *ModeConfig) Names(c Category) []string {
	if m == nil {
		return nil
	}
	switch c {
	case CategoryStay:
		return m.Stay
	case CategoryAway:
		return m.Away
	case CategoryNight:
		return m.Night
	default:
		return nil
	}
}

// Category returns the category a mode name is assigned to.
func (m *ModeConfig) Category(name string) (Category, bool) {
	for _, c := range Categories {
		for _, n := range m.Names(c) {
			if n == name {
				return c, true
			}
		}
	}
	return noCategory, false
}

// Empty reports whether no mode name is configured at all.
func (m *ModeConfig) Empty() bool {
	for _, c := range Categories {
		if len(m.Names(c)) > 0 {
			return false
		}
	}
	return true
}

// Validate checks that no name is assigned to more than one category.
func (m *ModeConfig) Validate() error {
	seen := map[string]Category{}
	for _, c := range Categories {
		for _, name := range m.Names(c) {
			if name == "" {
				return fmt.Errorf("empty mode name in %s", c)
			}
			if prev, ok := seen[name]; ok && prev != c {
				return fmt.Errorf("mode %q is configured as both %s and %s", name, prev, c)
			}
			seen[name] = c
		}
	}
	return nil
}
