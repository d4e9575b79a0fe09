package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/haasonsaas/trialchat/internal/agent"
)

// StatisticsTool computes descriptive statistics for a numeric dataset.
type StatisticsTool struct{}

// NewStatisticsTool creates the calculate_statistics tool.
func NewStatisticsTool() *StatisticsTool {
	return &StatisticsTool{}
}

type statisticsInput struct {
	Values []float64 `json:"values" jsonschema:"minItems=1" jsonschema_description:"Numeric values to summarize"`
}

// Statistics is the calculate_statistics result. Std is the sample standard
// deviation and is null for a single value.
type Statistics struct {
	Count  int      `json:"count"`
	Mean   float64  `json:"mean"`
	Median float64  `json:"median"`
	Std    *float64 `json:"std"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Q25    float64  `json:"q25"`
	Q75    float64  `json:"q75"`
}

func (t *StatisticsTool) Name() string { return "calculate_statistics" }

func (t *StatisticsTool) Description() string {
	return "Calculate descriptive statistics for a dataset: count, mean, median, sample standard deviation, min, max and the 25th and 75th percentiles."
}

func (t *StatisticsTool) Schema() json.RawMessage {
	return SchemaFor[statisticsInput]()
}

func (t *StatisticsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input statisticsInput
	if err := json.Unmarshal(params, &input); err != nil {
		return Error(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	stats, err := Describe(input.Values)
	if err != nil {
		return Error(err.Error()), nil
	}
	return Result(stats), nil
}

// Describe summarizes values. Percentiles interpolate linearly between the
// closest ranks.
func Describe(values []float64) (Statistics, error) {
	if len(values) == 0 {
		return Statistics{}, fmt.Errorf("values must not be empty")
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Statistics{}, fmt.Errorf("values must be finite numbers")
		}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := float64(len(sorted))
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / n

	stats := Statistics{
		Count:  len(sorted),
		Mean:   mean,
		Median: percentile(sorted, 0.5),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Q25:    percentile(sorted, 0.25),
		Q75:    percentile(sorted, 0.75),
	}
	if len(sorted) > 1 {
		var squares float64
		for _, v := range sorted {
			d := v - mean
			squares += d * d
		}
		std := math.Sqrt(squares / (n - 1))
		stats.Std = &std
	}
	return stats, nil
}

// percentile expects sorted input and p in [0, 1].
func percentile(sorted []float64, p float64) float64 {
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}
