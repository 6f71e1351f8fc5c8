// Package types defines the shared data model of the voice pipeline:
// conversation messages and turns, and the structured error taxonomy used
// across transport, session, and provider boundaries.
package types
