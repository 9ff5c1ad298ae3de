// Package stream moves attendance events from terminals to the central
// server.
//
// Each streaming device gets its own Engine running on a dedicated
// goroutine with its own device session, so a hung terminal never stalls
// the rest of the fleet. An engine backfills a historical window first,
// then captures punches live, reconnecting with a fixed retry budget when
// the session drops. Undeliverable events wait in a bounded overflow
// queue and are flushed after the next successful delivery.
//
// The Coordinator owns the engine-per-device mapping and exposes the
// start/stop surface used by the command router and the operator API.
package stream
