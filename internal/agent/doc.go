// Package agent implements the command plane between this agent and the
// central server.
//
// The Poller pulls commands on a fixed interval, presenting the agent's
// identity (agent_id plus the host's physical MAC). The Router turns
// each command into registry calls through a fixed command table and
// shapes every outcome into a result envelope the server can rely on.
package agent
