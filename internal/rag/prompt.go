package rag

import "fmt"

const promptTemplate = `Based on the following context from %s documentation, please provide a comprehensive and accurate answer to the question. Include relevant details and be specific.

Context:
%s

Question: %s

Please provide a clear, concise answer based on the information provided. If the context doesn't contain enough information to fully answer the question, please indicate that and answer what you can based on the available information.`

// BuildPrompt fills the grounding template.
func BuildPrompt(siteName, context, question string) string {
	return fmt.Sprintf(promptTemplate, siteName, context, question)
}
