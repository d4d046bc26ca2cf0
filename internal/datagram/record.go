// Package datagram builds command records for the swarm and serializes
// them for the broadcast transport.
package datagram

import (
	"fmt"
	"strings"

	"github.com/swarm-console/internal/address"
	"github.com/swarm-console/internal/commands"
)

// Record is the logical form of one dispatched instruction.
// TargetID is empty unless the command is addressed to one drone.
type Record struct {
	Code     commands.Code
	Args     []any
	TargetID string
	Group    address.GroupID
}

// Target reports the addressing mode the record was built for
func (r Record) Target() address.Target {
	switch {
	case r.TargetID != "":
		return address.ID(r.TargetID)
	case r.Group != 0:
		return address.InGroup(r.Group)
	default:
		return address.All()
	}
}

// FormatArgs renders the argument list for operator output
func (r Record) FormatArgs() string {
	parts := make([]string, len(r.Args))
	for i, arg := range r.Args {
		parts[i] = fmt.Sprint(arg)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// GroupLookup resolves the group a drone currently belongs to
type GroupLookup interface {
	Lookup(identity string) address.GroupID
}

// Builder turns validated commands into records
type Builder struct {
	groups GroupLookup
}

// NewBuilder creates a builder that consults groups for individually
// addressed commands. A nil lookup leaves every group at zero.
func NewBuilder(groups GroupLookup) *Builder {
	return &Builder{groups: groups}
}

// Build composes the record for code and args sent to target
func (b *Builder) Build(code commands.Code, args []any, target address.Target) Record {
	record := Record{Code: code, Args: args}

	switch target.Mode {
	case address.Individual:
		record.TargetID = target.Identity
		if b.groups != nil {
			record.Group = b.groups.Lookup(target.Identity)
		}
	case address.Group:
		record.Group = target.Group
	}

	return record
}

// GroupAssignment builds the set_group record that aligns one drone with
// its group in the membership table
func GroupAssignment(identity string, group address.GroupID) Record {
	return Record{
		Code:     commands.CodeSetGroup,
		Args:     []any{int64(group)},
		TargetID: identity,
		Group:    group,
	}
}
