// Package session negotiates the lifecycle of a single named multiplayer
// session against a pluggable Provider.
//
// The Negotiator is not safe for concurrent use. It is owned by an EventLoop;
// providers deliver completions by posting onto that loop, so every state
// transition happens on one goroutine.
package session
