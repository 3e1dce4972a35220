package controller

// Action, feedback and variable ids exposed to the host application.
const (
	ActionPresetRecall = "preset_recall"

	FeedbackPresetLoaded = "preset_loaded"

	VariablePresetNumber    = "preset_number"
	VariableGroupNumber     = "group_number"
	VariableConnectionState = "connection_state"
)

// ActionFunc runs an action with resolved option values.
type ActionFunc func(opts Options) error

// ActionDefinition describes an action the host application can trigger.
type ActionDefinition struct {
	ID       string
	Name     string
	Options  []NumberOption
	Callback ActionFunc
}

// FeedbackFunc evaluates a boolean feedback with resolved option values.
type FeedbackFunc func(opts Options) bool

// FeedbackDefinition describes a boolean feedback the host application can poll.
type FeedbackDefinition struct {
	ID          string
	Name        string
	Description string
	Options     []NumberOption
	Callback    FeedbackFunc
}

// VariableDefinition describes a variable published to the host application.
type VariableDefinition struct {
	ID   string
	Name string
}

func (c *Controller) actionDefinitions() []*ActionDefinition {
	return []*ActionDefinition{
		{
			ID:       ActionPresetRecall,
			Name:     "Preset Recall",
			Options:  []NumberOption{groupOption(), presetOption()},
			Callback: c.recallPresetAction,
		},
	}
}

func (c *Controller) feedbackDefinitions() []*FeedbackDefinition {
	return []*FeedbackDefinition{
		{
			ID:          FeedbackPresetLoaded,
			Name:        "Preset Loaded",
			Description: "Indicates if the specified preset is currently loaded",
			Options:     []NumberOption{groupOption(), presetOption()},
			Callback:    c.presetLoadedFeedback,
		},
	}
}

func variableDefinitions() []VariableDefinition {
	return []VariableDefinition{
		{ID: VariablePresetNumber, Name: "Preset Number"},
		{ID: VariableGroupNumber, Name: "Group Number"},
		{ID: VariableConnectionState, Name: "Connection State"},
	}
}
