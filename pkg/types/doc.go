// Package types defines the base value types shared across ouinet's DHT,
// signed-cache, and multi-peer-reader packages.
//
// This is the lowest-level package in the module: it depends on nothing
// else internal to ouinet. Every type here is a plain value type meant to
// be passed between packages, never a component with behavior of its own.
package types
