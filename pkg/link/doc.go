// Package link layers the acknowledgement discipline over framed
// connections and provides the dial/listen plumbing the roles share.
//
// Each direction of a connection allows at most one unacknowledged payload.
// Link tracks that state: Send arms the ack deadline, Poll clears it when
// the ACK arrives, and a deadline that expires surfaces as ErrAckTimeout,
// after which the owner must drop the connection. There is no retransmit;
// recovery is reconnecting and resending whatever the application still
// holds.
package link
