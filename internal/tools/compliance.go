package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/trialchat/internal/agent"
)

// Regulation is one rule set known to check_compliance.
type Regulation struct {
	Description  string
	Requirements []string
}

// Regulations is the compliance knowledge base keyed by regulation name.
var Regulations = map[string]Regulation{
	"FDA 21 CFR Part 11": {
		Description: "Electronic Records and Electronic Signatures",
		Requirements: []string{
			"Electronic signatures must be unique and linked to records",
			"Audit trails must be maintained for all data changes",
			"Systems must be validated for accuracy and reliability",
			"Access controls must be implemented",
		},
	},
	"ICH-GCP": {
		Description: "Good Clinical Practice Guidelines",
		Requirements: []string{
			"Informed consent must be obtained before trial procedures",
			"Protocol amendments must be documented and approved",
			"Adverse events must be reported according to timelines",
			"Source data must be accurate, complete, and verifiable",
		},
	},
}

// ComplianceTool reports the requirements of a regulation for a described
// dataset or process.
type ComplianceTool struct{}

// NewComplianceTool creates the check_compliance tool.
func NewComplianceTool() *ComplianceTool {
	return &ComplianceTool{}
}

type complianceInput struct {
	Regulation      string `json:"regulation" jsonschema_description:"Regulation to check, for example \"FDA 21 CFR Part 11\" or \"ICH-GCP\""`
	DataDescription string `json:"data_description" jsonschema_description:"Description of the data or process to check"`
}

// ComplianceReport is the check_compliance result. Unknown regulations only
// carry Status and Message.
type ComplianceReport struct {
	Status       string   `json:"status"`
	Message      string   `json:"message,omitempty"`
	Regulation   string   `json:"regulation,omitempty"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Assessment   string   `json:"assessment,omitempty"`
}

func (t *ComplianceTool) Name() string { return "check_compliance" }

func (t *ComplianceTool) Description() string {
	names := make([]string, 0, len(Regulations))
	for name := range Regulations {
		names = append(names, name)
	}
	sort.Strings(names)
	return "Check compliance with pharmaceutical regulations. Known regulations: " + strings.Join(names, ", ") + "."
}

func (t *ComplianceTool) Schema() json.RawMessage {
	return SchemaFor[complianceInput]()
}

func (t *ComplianceTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input complianceInput
	if err := json.Unmarshal(params, &input); err != nil {
		return Error(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	return Result(CheckCompliance(input.Regulation, input.DataDescription)), nil
}

// CheckCompliance looks regulation up by its exact name.
func CheckCompliance(regulation, dataDescription string) ComplianceReport {
	rules, ok := Regulations[regulation]
	if !ok {
		return ComplianceReport{
			Status:  "unknown",
			Message: fmt.Sprintf("Regulation '%s' not found in knowledge base", regulation),
		}
	}
	return ComplianceReport{
		Status:       "informational",
		Regulation:   regulation,
		Description:  rules.Description,
		Requirements: append([]string(nil), rules.Requirements...),
		Assessment:   "Review required for: " + dataDescription,
	}
}
