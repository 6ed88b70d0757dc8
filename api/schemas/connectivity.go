package schemas

// ErrorKind classifies why a connectivity probe could not reach the target.
type ErrorKind string

const (
	ErrorKindTimeout ErrorKind = "TIMEOUT"
	ErrorKindDNS     ErrorKind = "DNS"
	ErrorKindRefused ErrorKind = "REFUSED"
	ErrorKindTLS     ErrorKind = "TLS"
	ErrorKindOther   ErrorKind = "OTHER"
)

// ConnectivityResult is the classification of a single probe against the target.
// It is produced once per session attempt and never modified afterwards.
type ConnectivityResult struct {
	Reachable         bool       `json:"reachable" yaml:"reachable"`
	StatusCode        *int       `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ClassifiedBlocked bool       `json:"classified_blocked" yaml:"classified_blocked"`
	LatencyMs         int64      `json:"latency_ms" yaml:"latency_ms"`
	ErrorKind         *ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	// Detail carries the underlying error text for diagnostics.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Kind returns the error kind, or the empty string when the probe connected.
func (r ConnectivityResult) Kind() ErrorKind {
	if r.ErrorKind == nil {
		return ""
	}
	return *r.ErrorKind
}

// Healthy reports whether the direct path is usable as-is.
func (r ConnectivityResult) Healthy() bool {
	return r.Reachable && !r.ClassifiedBlocked
}
