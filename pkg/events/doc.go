// Package events provides a small in-process broker for connection and
// transfer events. The relay publishes to it; log sinks and tests
// subscribe. Delivery is best-effort and never blocks a publisher.
package events
