package toolconv

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/trialchat/internal/agent"
)

// ToOpenAITools converts tools to OpenAI function definitions.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap(tool),
			},
		}
	}
	return result
}
