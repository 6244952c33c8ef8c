// Package ratelimit is a per-client token bucket for the public page
// listener. State is in memory and per instance; it blunts a single client
// hammering the render path and leaves distributed traffic to the edge.
package ratelimit
