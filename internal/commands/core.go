package commands

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var vector = []ArgKind{Float, Float, Float, Float}

// coreSpecs is the fixed verb table of the console
var coreSpecs = []Spec{
	{Verb: "takeoff", Code: CodeTakeoff, Description: "Take off to the default hover altitude"},
	{Verb: "land", Code: CodeLand, Description: "Land at the current position"},
	{Verb: "arm", Code: CodeArm, Description: "Arm the motors"},
	{Verb: "disarm", Code: CodeDisarm, Description: "Disarm the motors"},
	{Verb: "trp", Code: CodeSwarmOn, Description: "Enable swarm mode"},
	{Verb: "stop", Code: CodeStop, Description: "Emergency stop"},
	{Verb: "save", Code: CodeSave, Description: "Persist on-board settings"},
	{
		Verb:        "set_speed",
		Code:        CodeSetSpeed,
		Args:        vector,
		ArgNames:    []string{"vx", "vy", "vz", "yaw_rate"},
		Description: "Set body velocity in m/s and yaw rate",
	},
	{
		Verb:        "goto",
		Code:        CodeGoto,
		Args:        vector,
		ArgNames:    []string{"x", "y", "z", "yaw"},
		Description: "Fly to an absolute position",
	},
	{
		Verb:        "smart_goto",
		Code:        CodeSmartGoto,
		Args:        vector,
		ArgNames:    []string{"x", "y", "z", "yaw"},
		Description: "Fly to an absolute position with on-board path planning",
	},
	{
		Verb:        "led",
		Code:        CodeLED,
		Args:        []ArgKind{Int, Int, Int, Int},
		ArgNames:    []string{"led_id", "r", "g", "b"},
		Description: "Set the colour of one LED",
		check:       checkLED,
	},
	{
		Verb:        "set_group",
		Code:        CodeSetGroup,
		Args:        []ArgKind{Int},
		ArgNames:    []string{"group"},
		Description: "Store a swarm group id on the drone",
		check:       checkGroup,
	},
}

// RegisterCoreCommands registers the built-in verb table
func RegisterCoreCommands(registry *CommandRegistry) {
	for _, spec := range coreSpecs {
		registry.Register(spec)
	}
}

// NewDefaultRegistry returns a registry holding the built-in verbs
func NewDefaultRegistry() *CommandRegistry {
	registry := NewCommandRegistry()
	RegisterCoreCommands(registry)
	return registry
}

// Parse validates a verb and its trailing tokens. Either every argument
// parses or nothing is returned.
func (r *CommandRegistry) Parse(verb string, tokens []string) (Spec, []any, error) {
	spec, ok := r.Get(verb)
	if !ok {
		return Spec{}, nil, &CommandError{
			Code:    ErrUnknownVerb,
			Message: fmt.Sprintf("unknown command %q", verb),
			Details: "available: " + strings.Join(r.List(), ", "),
		}
	}

	if len(tokens) != len(spec.Args) {
		return Spec{}, nil, usageError(spec, fmt.Sprintf("expected %d arguments, got %d", len(spec.Args), len(tokens)))
	}

	args := make([]any, len(spec.Args))
	for i, kind := range spec.Args {
		value, err := parseArg(kind, tokens[i])
		if err != nil {
			return Spec{}, nil, usageError(spec, fmt.Sprintf("%s: %v", spec.ArgNames[i], err))
		}
		args[i] = value
	}

	if spec.check != nil {
		if err := spec.check(args); err != nil {
			return Spec{}, nil, usageError(spec, err.Error())
		}
	}

	return spec, args, nil
}

func parseArg(kind ArgKind, token string) (any, error) {
	switch kind {
	case Int:
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", token)
		}
		return n, nil
	default:
		f, err := strconv.ParseFloat(token, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%q is not a finite number", token)
		}
		return f, nil
	}
}

func usageError(spec Spec, details string) *CommandError {
	return &CommandError{
		Code:    ErrUsage,
		Message: "usage: " + spec.Usage(),
		Details: details,
	}
}

func checkLED(args []any) error {
	if args[0].(int64) < 0 {
		return fmt.Errorf("led_id must not be negative")
	}
	for i, name := range []string{"r", "g", "b"} {
		if v := args[i+1].(int64); v < 0 || v > 255 {
			return fmt.Errorf("%s must be in 0..255, got %d", name, v)
		}
	}
	return nil
}

func checkGroup(args []any) error {
	if v := args[0].(int64); v < 0 || v > math.MaxUint32 {
		return fmt.Errorf("group must be in 0..%d, got %d", uint32(math.MaxUint32), v)
	}
	return nil
}
