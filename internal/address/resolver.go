// Package address resolves the target token of a console line into an
// addressing mode.
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// GroupID is an operator-assigned swarm group. Zero is the default group.
type GroupID uint32

// Mode is the addressing mode of one command
type Mode int

const (
	Broadcast Mode = iota
	Individual
	Group
)

func (m Mode) String() string {
	switch m {
	case Individual:
		return "individual"
	case Group:
		return "group"
	default:
		return "broadcast"
	}
}

const (
	// AllKeyword addresses every drone
	AllKeyword = "all"
	// GroupPrefix introduces a group target, as in g:3
	GroupPrefix = "g:"
)

var (
	ErrEmptyTarget    = errors.New("empty target")
	ErrMalformedGroup = errors.New("malformed group target")
)

// Target is a resolved addressing mode. Identity is only set for
// Individual targets, Group only for Group targets.
type Target struct {
	Mode     Mode
	Identity string
	Group    GroupID
}

// All returns the broadcast target
func All() Target { return Target{Mode: Broadcast} }

// ID returns an individual target
func ID(identity string) Target { return Target{Mode: Individual, Identity: identity} }

// InGroup returns a group target
func InGroup(id GroupID) Target { return Target{Mode: Group, Group: id} }

func (t Target) String() string {
	switch t.Mode {
	case Individual:
		return t.Identity
	case Group:
		return fmt.Sprintf("%s%d", GroupPrefix, t.Group)
	default:
		return AllKeyword
	}
}

// Resolve maps a target token to a Target.
//
// A group token whose suffix is not a valid group id resolves to group 0
// and is returned together with ErrMalformedGroup, so callers may either
// accept the fallback or reject the line.
func Resolve(token string) (Target, error) {
	if token == "" {
		return Target{}, ErrEmptyTarget
	}

	if strings.EqualFold(token, AllKeyword) {
		return All(), nil
	}

	if len(token) >= len(GroupPrefix) && strings.EqualFold(token[:len(GroupPrefix)], GroupPrefix) {
		suffix := token[len(GroupPrefix):]
		n, err := strconv.ParseUint(suffix, 10, 32)
		if err != nil {
			return InGroup(0), fmt.Errorf("%w: %q", ErrMalformedGroup, token)
		}
		return InGroup(GroupID(n)), nil
	}

	return ID(token), nil
}
