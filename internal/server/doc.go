// Package server implements the SyncChat WebSocket server.
//
// Each accepted connection gets a Client with a read pump and a write pump.
// Read pumps decode frames into events and push them onto one shared queue.
// A single Dispatcher goroutine drains that queue and is the only code that
// mutates the room, so login, message, logout, and state-request handling
// never race with each other. Outbound snapshots go back through each
// Client's buffered send channel, either directly or via Hub.Broadcast.
package server
