package controller

import (
	"errors"
	"fmt"
)

// ErrUnknownOption is returned when an option value is given for an option the definition does not have.
var ErrUnknownOption = errors.New("controller: unknown option")

// ErrOptionOutOfRange is returned when an option value is outside its [Min, Max] range.
var ErrOptionOutOfRange = errors.New("controller: option out of range")

// NumberOption describes an integer option of an action or feedback.
type NumberOption struct {
	ID      string
	Label   string
	Default int
	Min     int
	Max     int
}

// Options are the option values of one action or feedback invocation, keyed by option id.
type Options map[string]int

// resolveOptions fills missing values with defaults and validates ranges.
func resolveOptions(defs []NumberOption, given Options) (Options, error) {
	resolved := make(Options, len(defs))
	for _, def := range defs {
		v, ok := given[def.ID]
		if !ok {
			v = def.Default
		}
		if v < def.Min || v > def.Max {
			return nil, fmt.Errorf("%w: %s=%d not in [%d, %d]", ErrOptionOutOfRange, def.ID, v, def.Min, def.Max)
		}
		resolved[def.ID] = v
	}

	for id := range given {
		if _, ok := resolved[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOption, id)
		}
	}

	return resolved, nil
}

func groupOption() NumberOption {
	return NumberOption{ID: OptionGroup, Label: "Group Number", Default: 1, Min: 1, Max: 99}
}

func presetOption() NumberOption {
	return NumberOption{ID: OptionPreset, Label: "Preset Number", Default: 1, Min: 1, Max: 14}
}

const (
	OptionGroup  = "group"
	OptionPreset = "preset"
)
