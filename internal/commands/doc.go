// Package commands defines the verbs the swarm console accepts.
//
// The registry is a static table built at startup: each verb maps to a wire
// code, a fixed list of argument kinds and a usage line. Parse validates a
// whole argument list before returning anything, so a bad line never yields
// a partial command.
package commands
