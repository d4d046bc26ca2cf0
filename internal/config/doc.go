// Package config loads the swarm console configuration.
//
// Values are layered: built-in defaults, then a YAML file, then SWARMCTL_*
// environment variables. The result is validated once before any component
// is built.
package config
