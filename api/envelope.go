// Package api is the thin tool-surface layer wiring the C1-C12 components
// into the request/response shapes described by the external tool
// contract. Handle* functions return typed Go structs, not Envelopes: it
// does not dispatch requests or serialize responses itself (that is a
// hosting concern). Envelope, Text, and Error are exported for that
// dispatcher to wrap a marshaled Handle* response (or a caught error) into
// the `{content:[{type:"text",...}]}` shape the tool contract specifies;
// no code in this package constructs one.
package api

// ContentBlock is one piece of a tool's response envelope.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Envelope is the JSON content envelope every tool call returns, per the
// external tool contract. Built by the dispatcher, not by this package's
// own Handle* functions.
type Envelope struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text builds a single-block success envelope wrapping s (typically a
// marshaled Handle* response).
func Text(s string) Envelope {
	return Envelope{Content: []ContentBlock{{Type: "text", Text: s}}}
}

// Error builds a single-block error envelope wrapping the message for a
// failed Handle* call.
func Error(s string) Envelope {
	return Envelope{Content: []ContentBlock{{Type: "text", Text: s}}, IsError: true}
}
