// Package api provides the operator-facing HTTP surface of the agent.
//
// The API is a trigger plane, not the command plane: the central server
// drives the agent through polled commands, while this surface lets an
// on-site operator inspect devices, start and stop streams, and watch
// the live event feed over WebSocket.
package api
