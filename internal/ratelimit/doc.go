// Package ratelimit spaces outbound requests to a single backend.
//
// A Throttle is shared by pointer between every caller that talks to the same
// service. The clock and sleep functions are injectable so tests can observe
// requested waits without real delays.
package ratelimit
