package titan

import "fmt"

const (
	MinGroup  = 1
	MaxGroup  = 99
	MinPreset = 1
	MaxPreset = 14
)

// PresetRef identifies a preset file on the device: presetP.GPG.
type PresetRef struct {
	Group  int
	Preset int
}

// Validate checks the group and preset ranges.
func (p PresetRef) Validate() error {
	if p.Group < MinGroup || p.Group > MaxGroup {
		return fmt.Errorf("%w: %d", ErrGroupOutOfRange, p.Group)
	}
	if p.Preset < MinPreset || p.Preset > MaxPreset {
		return fmt.Errorf("%w: %d", ErrPresetOutOfRange, p.Preset)
	}

	return nil
}

// FileName returns the preset file name, e.g. "preset3.GP12".
func (p PresetRef) FileName() string {
	return fmt.Sprintf("preset%d.GP%d", p.Preset, p.Group)
}

func (p PresetRef) String() string { return p.FileName() }

// RecallCommand returns the ASCII load command for the preset:
//
//	XP GGG000000 L presetP.GPG
//
// GGG is the zero-padded group, the two 000 fields select all modules and all windows.
func (p PresetRef) RecallCommand() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	return fmt.Sprintf("XP %03d000000 L %s", p.Group, p.FileName()), nil
}

// RecallPresetCommand is a shortcut of PresetRef{group, preset}.RecallCommand().
func RecallPresetCommand(group, preset int) (string, error) {
	return PresetRef{Group: group, Preset: preset}.RecallCommand()
}
