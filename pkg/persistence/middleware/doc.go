// Package middleware wraps a ports.SnapshotStore with extra behavior, such as sealing
// suspended flows at rest.
package middleware
