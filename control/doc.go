// Package control
// Author: momentics <momentics@gmail.com>
//
// Typed runtime configuration for bus peers: defaults, YAML loading with
// default-preserving merge, and validation of loop, spawner and transport
// tunables before any component is wired.
package control
