package titan

import "fmt"

// ErrorCode is the error code byte at offset 10 of a command response.
type ErrorCode byte

// Error codes reported by the device (documentation table B-6).
const (
	CodeOK                   ErrorCode = 0x00
	CodeParseError           ErrorCode = 0x01
	CodeChecksumError        ErrorCode = 0x02
	CodeFrameIDMismatch      ErrorCode = 0x03
	CodeModuleIDMismatch     ErrorCode = 0x04
	CodeStyleMismatch        ErrorCode = 0x05
	CodeNoSuchModule         ErrorCode = 0x06
	CodeNoSuchSubModule      ErrorCode = 0x07
	CodeNoSuchProcessor      ErrorCode = 0x08
	CodeIncompleteCommand    ErrorCode = 0x09
	CodeUnsupportedCommand   ErrorCode = 0x0A
	CodeUnsupportedBroadcast ErrorCode = 0x0B
	CodeExecutionContext     ErrorCode = 0x0C
	CodeExecutionFailed      ErrorCode = 0x0D
	CodeDuplicateFile        ErrorCode = 0x0E
	CodeMissingFile          ErrorCode = 0x0F
	CodeConnectionLimit      ErrorCode = 0x10
)

// ErrorCategory is the named class of a device error code.
type ErrorCategory uint8

const (
	CategoryNone ErrorCategory = iota
	CategoryParse
	CategoryChecksum
	CategoryFrameIDMismatch
	CategoryModuleIDMismatch
	CategoryStyleMismatch
	CategoryNoSuchModule
	CategoryNoSuchSubModule
	CategoryNoSuchProcessor
	CategoryIncompleteCommand
	CategoryUnsupportedCommand
	CategoryUnsupportedBroadcast
	CategoryExecutionContext
	CategoryExecutionFailed
	CategoryDuplicateFile
	CategoryMissingFile
	CategoryConnectionLimit
	// CategoryUnknown covers every non-zero code without a documented meaning.
	CategoryUnknown
)

var categoryNames = [...]string{
	CategoryNone:                 "none",
	CategoryParse:                "parse-error",
	CategoryChecksum:             "checksum-error",
	CategoryFrameIDMismatch:      "frame-id-mismatch",
	CategoryModuleIDMismatch:     "module-id-mismatch",
	CategoryStyleMismatch:        "style-mismatch",
	CategoryNoSuchModule:         "no-such-module",
	CategoryNoSuchSubModule:      "no-such-sub-module",
	CategoryNoSuchProcessor:      "no-such-processor",
	CategoryIncompleteCommand:    "incomplete-command",
	CategoryUnsupportedCommand:   "unsupported-command",
	CategoryUnsupportedBroadcast: "unsupported-broadcast",
	CategoryExecutionContext:     "execution-context",
	CategoryExecutionFailed:      "execution-failed",
	CategoryDuplicateFile:        "duplicate-file",
	CategoryMissingFile:          "missing-file",
	CategoryConnectionLimit:      "connection-limit",
	CategoryUnknown:              "unknown",
}

func (c ErrorCategory) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}

	return "unknown"
}

var categoryDescriptions = [...]string{
	CategoryNone:                 "No error",
	CategoryParse:                "Command parsing error or command format error",
	CategoryChecksum:             "Command checksum error",
	CategoryFrameIDMismatch:      "Frame_ID does not match",
	CategoryModuleIDMismatch:     "Module_ID/Module ID length does not match",
	CategoryStyleMismatch:        "Module style or sub-module style does not match real device",
	CategoryNoSuchModule:         "No such module - module specified in the command does not exist",
	CategoryNoSuchSubModule:      "No such sub-module - sub-module specified in the command does not exist",
	CategoryNoSuchProcessor:      "No such processor - processor specified in the command does not exist",
	CategoryIncompleteCommand:    "Command received is incomplete",
	CategoryUnsupportedCommand:   "Device (module or sub-module) does not support this command",
	CategoryUnsupportedBroadcast: "This command does not support MulticastBroadcast command type",
	CategoryExecutionContext:     "Cannot execute command in this module",
	CategoryExecutionFailed:      "Command execution failed",
	CategoryDuplicateFile:        "File already exist (filename already in use)",
	CategoryMissingFile:          "File does not exist or was not created properly",
	CategoryConnectionLimit:      "Number of TCP connection has exceeded system limit",
	CategoryUnknown:              "Unknown error",
}

// Description returns the human-readable text of the category.
func (c ErrorCategory) Description() string {
	if int(c) < len(categoryDescriptions) {
		return categoryDescriptions[c]
	}

	return categoryDescriptions[CategoryUnknown]
}

// Category maps the code to its category. The mapping is total: codes 0x01-0x10 have
// their own category, 0x00 is CategoryNone and everything else is CategoryUnknown.
func (c ErrorCode) Category() ErrorCategory {
	switch {
	case c == CodeOK:
		return CategoryNone
	case c <= CodeConnectionLimit:
		// codes 0x01..0x10 line up with CategoryParse..CategoryConnectionLimit
		return ErrorCategory(c)
	default:
		return CategoryUnknown
	}
}

func (c ErrorCode) String() string {
	return fmt.Sprintf("0x%02X", byte(c))
}

// CommandError is a non-zero error code reported in a command response. It does not
// affect the connection state.
type CommandError struct {
	Code ErrorCode
}

// Category returns the category of the error code.
func (e *CommandError) Category() ErrorCategory { return e.Code.Category() }

func (e *CommandError) Error() string {
	return fmt.Sprintf("titan: command error: %s (%s)", e.Code.Category().Description(), e.Code)
}
