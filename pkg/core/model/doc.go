// Package model manages one duplex session with a realtime conversational
// audio model.
//
// # State Machine
//
//	Idle -> Connecting -> Active -> Closing -> Closed
//
// Failed is terminal and reachable from every non-terminal state. A Manager
// owns a single sender goroutine (tool acknowledgements first, then audio) and
// a single receiver goroutine that turns transport messages into Events.
package model
