// Package wire implements the framed TCP protocol every connection in the
// system speaks.
//
// # Frames
//
// A frame is a fixed-width ASCII header followed by the payload. The header
// holds either the payload byte length as a left-justified, space-padded
// decimal, or one of the control tokens ACK, PING, PONG, in which case no
// payload follows. Width is configurable and must be identical on both ends.
//
// # Acknowledgement
//
// Receivers write an ACK frame immediately after draining a payload, before
// surfacing it to the caller. Senders do not wait here: tracking the
// outstanding payload and its ack deadline belongs to pkg/link.
//
// # Polling
//
// Poll reads with a near-zero deadline on the first header byte. Nothing
// pending is a clean EventNone; one byte in commits the read to the full
// frame under the regular I/O timeout. This keeps exchange loops responsive
// without dedicating a goroutine per direction.
//
// # Payloads
//
// Data frames carry a versioned JSON envelope of kind "buffer" (samples plus
// episode statistics) or "weights" (a policy blob with its version number).
// A payload that fails to decode is treated exactly like a lost connection.
package wire
