// Package soap implements the streaming fetcher for the upstream SIPSA SOAP
// service: request construction, retry/backoff, gzip decompression, and
// surfacing of transport/protocol faults as typed errors. No SOAP or XML
// library exists anywhere in the example pack this service was grounded on,
// so this package builds directly on net/http and encoding/xml (see
// DESIGN.md for the standard-library justification).
package soap

import "time"

// Config configures the SOAP client's endpoint, timeouts, and retry policy.
type Config struct {
	Endpoint          string
	Namespace         string
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxChildElements  int // XML safety cap for parsers.New; not read anywhere: the orchestrator calls parsers.New(body, 0).
}

// DefaultConfig returns the §6.4 defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		ReadTimeout:      30 * time.Second,
		MaxRetries:       3,
		RetryBackoff:     500 * time.Millisecond,
		MaxChildElements: 64,
	}
}
