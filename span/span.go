// Package span holds the trace span model decoded from the hub and handed to
// sinks. Field semantics follow the zipkin v2 model: timestamps and durations
// are epoch microseconds, ids are lower-hex strings.
package span

type Kind string

const (
	KindUnset    Kind = ""
	KindClient   Kind = "CLIENT"
	KindServer   Kind = "SERVER"
	KindProducer Kind = "PRODUCER"
	KindConsumer Kind = "CONSUMER"
)

type Endpoint struct {
	ServiceName string `json:"serviceName,omitempty"`
	IPv4        string `json:"ipv4,omitempty"`
	IPv6        string `json:"ipv6,omitempty"`
	Port        int    `json:"port,omitempty"`
}

func (e *Endpoint) empty() bool {
	return e == nil || (e.ServiceName == "" && e.IPv4 == "" && e.IPv6 == "" && e.Port == 0)
}

type Annotation struct {
	Timestamp int64  `json:"timestamp"`
	Value     string `json:"value"`
}

type Span struct {
	TraceID        string            `json:"traceId"`
	ParentID       string            `json:"parentId,omitempty"`
	ID             string            `json:"id"`
	Kind           Kind              `json:"kind,omitempty"`
	Name           string            `json:"name,omitempty"`
	Timestamp      int64             `json:"timestamp,omitempty"`
	Duration       int64             `json:"duration,omitempty"`
	LocalEndpoint  *Endpoint         `json:"localEndpoint,omitempty"`
	RemoteEndpoint *Endpoint         `json:"remoteEndpoint,omitempty"`
	Annotations    []Annotation      `json:"annotations,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Debug          bool              `json:"debug,omitempty"`
	Shared         bool              `json:"shared,omitempty"`
}

// LocalServiceName returns the service name of the local endpoint, or "".
func (s *Span) LocalServiceName() string {
	if s.LocalEndpoint == nil {
		return ""
	}
	return s.LocalEndpoint.ServiceName
}

// Normalize drops empty endpoints so encoders do not emit `{}`.
func (s *Span) Normalize() {
	if s.LocalEndpoint.empty() {
		s.LocalEndpoint = nil
	}
	if s.RemoteEndpoint.empty() {
		s.RemoteEndpoint = nil
	}
}
