// Package envelope implements the wire format shared by the panel and the hub.
//
// Every frame is a JSON object. Frames tagged with a "channel" field belong
// to that logical channel; frames without one belong to the "global"
// channel. The liveness probe {"type":"ping"} and its reply
// {"type":"pong"} never carry a channel and are never routed.
//
// Outbound envelopes are flat: the payload's fields plus the channel tag,
// e.g. {"channel":"audio","type":"get_status"}.
package envelope
