package agent

import "time"

// Command is one unit of work pulled from the central server.
//
// The routing target lives at the top level of the envelope. Some senders
// repeat it inside Params; the router accepts that as a fallback and
// strips routing keys before any device work starts.
type Command struct {
	// ID correlates the result back to the issuing command.
	ID string `json:"id"`

	// Command is the operation name, e.g. "get_users" or "register_device".
	Command string `json:"command"`

	// DeviceID and DeviceIP identify the target terminal. Either may be
	// absent; management commands such as list_devices need no target.
	DeviceID string `json:"device_id,omitempty"`
	DeviceIP string `json:"device_ip,omitempty"`

	// Params carries the operation parameters.
	Params map[string]any `json:"params"`
}

// Result is the envelope posted back to the central server after a
// command is handled. Result.Result is always a mapping, whatever shape
// the underlying operation produced.
type Result struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Command    string         `json:"command"`
	MACAddress string         `json:"mac_address"`
	Result     map[string]any `json:"result"`
	DeviceIP   string         `json:"device_ip,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
	Success    bool           `json:"success"`
	Timestamp  int64          `json:"timestamp"`
}

// pollRequest is the body posted when asking for work.
type pollRequest struct {
	AgentID    string `json:"agent_id"`
	MACAddress string `json:"mac_address"`
}

// pollResponse is the body returned by the command queue.
// A null Data means no work is available.
type pollResponse struct {
	Data *Command `json:"data"`
}

// nowStamp returns the current time as epoch seconds, the timestamp
// format the central server expects on result envelopes.
func nowStamp() int64 {
	return time.Now().Unix()
}
