package truncation

import "encoding/json"

// ToolEnvelope carries bounded content together with the accounting and,
// when something was cut, the full result for display surfaces.
type ToolEnvelope struct {
	Content  string           `json:"content"`
	Metadata EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata describes the envelope's tool call.
type EnvelopeMetadata struct {
	ToolName   string         `json:"tool_name"`
	Truncation TruncationInfo `json:"truncation"`
	// FullResult is nil when nothing was truncated.
	FullResult *string `json:"full_result"`
}

// TruncationInfo is an Outcome without its content.
type TruncationInfo struct {
	WasTruncated  bool `json:"was_truncated"`
	OriginalSize  int  `json:"original_size"`
	TruncatedSize int  `json:"truncated_size"`
	Metadata
}

// NewEnvelope builds the envelope for a tool's outcome.
func NewEnvelope(toolName string, o Outcome) ToolEnvelope {
	env := ToolEnvelope{
		Content: o.ModelContent,
		Metadata: EnvelopeMetadata{
			ToolName: toolName,
			Truncation: TruncationInfo{
				WasTruncated:  o.WasTruncated,
				OriginalSize:  o.OriginalSize,
				TruncatedSize: o.TruncatedSize,
				Metadata:      o.Metadata,
			},
		},
	}
	if o.WasTruncated {
		full := o.FullContent
		env.Metadata.FullResult = &full
	}
	return env
}

// JSON renders the envelope.
func (e ToolEnvelope) JSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
