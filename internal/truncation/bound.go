package truncation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Default limits applied when a Limits field is zero or negative.
const (
	DefaultMaxTokens     = 2000
	DefaultMaxArrayItems = 10
)

// Strategy names how a result was shrunk.
type Strategy string

const (
	StrategySmartJSON Strategy = "smart_json"
	StrategyText      Strategy = "text"
)

// PayloadKind distinguishes the two shapes a raw tool result can take.
type PayloadKind uint8

const (
	// PayloadOpaque is text that is not valid JSON.
	PayloadOpaque PayloadKind = iota
	// PayloadStructured is a JSON document.
	PayloadStructured
)

func (k PayloadKind) String() string {
	if k == PayloadStructured {
		return "structured"
	}
	return "opaque"
}

// Payload is a raw tool result normalized for bounding.
type Payload struct {
	Kind PayloadKind
	// Text is the canonical serialized form of the result.
	Text string
	// Root is the parsed document; set only for PayloadStructured.
	Root Value
}

// Parse normalizes a raw tool result.
//
// Strings and byte slices are returned verbatim and are structured only when
// they hold valid JSON. Valid json.RawMessage and every other Go value are
// serialized with two-space indentation and are always structured; an invalid
// json.RawMessage is kept verbatim as opaque text. An error means the value
// cannot be serialized at all.
func Parse(raw any) (Payload, error) {
	switch v := raw.(type) {
	case string:
		return parseText(v), nil
	case []byte:
		return parseText(string(v)), nil
	case json.RawMessage:
		if root, ok := ParseValue(string(v)); ok {
			return Payload{Kind: PayloadStructured, Text: root.String(), Root: root}, nil
		}
		return parseText(string(v)), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(raw); err != nil {
		return Payload{}, fmt.Errorf("serialize tool result: %w", err)
	}
	root, ok := ParseValue(buf.String())
	if !ok {
		return Payload{}, fmt.Errorf("serialize tool result: encoder produced invalid JSON")
	}
	return Payload{Kind: PayloadStructured, Text: root.String(), Root: root}, nil
}

func parseText(text string) Payload {
	if root, ok := ParseValue(text); ok {
		return Payload{Kind: PayloadStructured, Text: text, Root: root}
	}
	return Payload{Kind: PayloadOpaque, Text: text}
}

// Metadata is the accounting attached to an Outcome. EstimatedTokens is set
// when the result already fit; the other fields are set when it was shrunk.
type Metadata struct {
	EstimatedTokens int      `json:"estimated_tokens,omitempty"`
	Strategy        Strategy `json:"truncation_type,omitempty"`
	OriginalTokens  int      `json:"original_tokens,omitempty"`
	TruncatedTokens int      `json:"truncated_tokens,omitempty"`
}

// Outcome is the result of bounding one tool result.
//
// FullContent always holds the canonical serialized form of the raw result.
// ModelContent fits the budget except when even the clamped text marker
// pushes it over, which only happens for very small budgets.
type Outcome struct {
	ModelContent  string
	FullContent   string
	WasTruncated  bool
	OriginalSize  int
	TruncatedSize int
	Metadata      Metadata
}

// BytesSaved returns how many bytes bounding removed.
func (o Outcome) BytesSaved() int {
	if !o.WasTruncated || o.OriginalSize <= o.TruncatedSize {
		return 0
	}
	return o.OriginalSize - o.TruncatedSize
}

// Limits bound a single tool result.
type Limits struct {
	MaxTokens     int
	MaxArrayItems int
}

// WithDefaults fills zero or negative limits.
func (l Limits) WithDefaults() Limits {
	if l.MaxTokens <= 0 {
		l.MaxTokens = DefaultMaxTokens
	}
	if l.MaxArrayItems <= 0 {
		l.MaxArrayItems = DefaultMaxArrayItems
	}
	return l
}

// Truncator applies Limits to tool results.
type Truncator struct {
	Limits Limits
	Logger *slog.Logger
}

// NewTruncator creates a truncator with defaults applied.
func NewTruncator(limits Limits, logger *slog.Logger) Truncator {
	if logger == nil {
		logger = slog.Default()
	}
	return Truncator{Limits: limits.WithDefaults(), Logger: logger}
}

// Bound bounds raw with the given limits and the default logger.
func Bound(raw any, maxTokens, maxArrayItems int) Outcome {
	return NewTruncator(Limits{MaxTokens: maxTokens, MaxArrayItems: maxArrayItems}, nil).Bound(raw)
}

// Bound shrinks raw to fit the token budget.
//
// A result that already fits is returned as is. Structured results have
// their arrays windowed first and are clamped as text only if still too big;
// opaque text is clamped directly. Serialization failures are logged and the
// value is returned unbounded.
func (t Truncator) Bound(raw any) Outcome {
	limits := t.Limits.WithDefaults()

	payload, err := Parse(raw)
	if err != nil {
		logger := t.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("tool result could not be serialized; passing through unbounded", "error", err)
		text := fmt.Sprint(raw)
		return Outcome{
			ModelContent:  text,
			FullContent:   text,
			OriginalSize:  len(text),
			TruncatedSize: len(text),
			Metadata:      Metadata{EstimatedTokens: EstimateTokens(text)},
		}
	}

	full := payload.Text
	originalTokens := EstimateTokens(full)
	if contentTokens(full) <= limits.MaxTokens {
		return Outcome{
			ModelContent:  full,
			FullContent:   full,
			OriginalSize:  len(full),
			TruncatedSize: len(full),
			Metadata:      Metadata{EstimatedTokens: originalTokens},
		}
	}

	var bounded string
	var strategy Strategy
	switch payload.Kind {
	case PayloadStructured:
		strategy = StrategySmartJSON
		bounded = TruncateStructure(payload.Root, limits.MaxArrayItems).String()
		if EstimateTokens(bounded) > limits.MaxTokens {
			bounded = TruncateText(bounded, limits.MaxTokens)
		}
	default:
		strategy = StrategyText
		bounded = TruncateText(full, limits.MaxTokens)
	}

	return Outcome{
		ModelContent:  bounded,
		FullContent:   full,
		WasTruncated:  true,
		OriginalSize:  len(full),
		TruncatedSize: len(bounded),
		Metadata: Metadata{
			Strategy:        strategy,
			OriginalTokens:  originalTokens,
			TruncatedTokens: EstimateTokens(bounded),
		},
	}
}

