package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies a drone command on the wire
type Code uint8

// Command codes understood by the on-board vehicle controller
const (
	CodeArm       Code = 1
	CodeDisarm    Code = 2
	CodeTakeoff   Code = 3
	CodeLand      Code = 4
	CodeSetSpeed  Code = 5
	CodeGoto      Code = 6
	CodeSmartGoto Code = 7
	CodeLED       Code = 8
	CodeSwarmOn   Code = 9
	CodeStop      Code = 10
	CodeSave      Code = 11
	CodeSetGroup  Code = 12
)

var codeNames = map[Code]string{
	CodeArm:       "ARM",
	CodeDisarm:    "DISARM",
	CodeTakeoff:   "TAKEOFF",
	CodeLand:      "LAND",
	CodeSetSpeed:  "SET_SPEED",
	CodeGoto:      "GOTO",
	CodeSmartGoto: "SMART_GOTO",
	CodeLED:       "LED",
	CodeSwarmOn:   "SWARM_ON",
	CodeStop:      "STOP",
	CodeSave:      "SAVE",
	CodeSetGroup:  "SET_GROUP",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", uint8(c))
}

// ArgKind is the declared type of one positional argument
type ArgKind int

const (
	Float ArgKind = iota
	Int
)

func (k ArgKind) String() string {
	if k == Int {
		return "int"
	}
	return "float"
}

// Spec describes one verb accepted by the console
type Spec struct {
	Verb        string
	Code        Code
	Args        []ArgKind
	ArgNames    []string
	Description string

	// check validates parsed arguments beyond their type
	check func(args []any) error
}

// Usage returns the operator-facing usage line
func (s Spec) Usage() string {
	var b strings.Builder
	b.WriteString("<target> ")
	b.WriteString(s.Verb)
	for _, name := range s.ArgNames {
		b.WriteByte(' ')
		b.WriteString(name)
	}
	return b.String()
}

// CommandRegistry manages available verbs
type CommandRegistry struct {
	specs map[string]Spec
}

// NewCommandRegistry creates an empty command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		specs: make(map[string]Spec),
	}
}

// Register adds a verb to the registry. Verbs are stored lower-case.
func (r *CommandRegistry) Register(spec Spec) {
	spec.Verb = strings.ToLower(spec.Verb)
	r.specs[spec.Verb] = spec
}

// Get returns the spec for a verb, ignoring case
func (r *CommandRegistry) Get(verb string) (Spec, bool) {
	spec, exists := r.specs[strings.ToLower(verb)]
	return spec, exists
}

// List returns all registered verbs in sorted order
func (r *CommandRegistry) List() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CommandInfo provides information about a verb
type CommandInfo struct {
	Verb        string `json:"verb"`
	Code        string `json:"code"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

// Describe returns every verb with its usage, sorted by verb
func (r *CommandRegistry) Describe() []CommandInfo {
	infos := make([]CommandInfo, 0, len(r.specs))
	for _, verb := range r.List() {
		spec := r.specs[verb]
		infos = append(infos, CommandInfo{
			Verb:        spec.Verb,
			Code:        spec.Code.String(),
			Usage:       spec.Usage(),
			Description: spec.Description,
		})
	}
	return infos
}

// CommandError represents a command-specific error
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CommandError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Common error codes
const (
	ErrUsage       = "USAGE"
	ErrUnknownVerb = "UNKNOWN_VERB"
)

// IsCode reports whether err carries the given command error code
func IsCode(err error, code string) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == code
}
