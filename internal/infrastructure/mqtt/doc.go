// Package mqtt provides the publisher used by the optional event mirror.
//
// When the mirror is enabled, every captured attendance event is
// published to the site-local broker in addition to delivery to the
// central server, giving on-site systems a zero-latency feed.
package mqtt
