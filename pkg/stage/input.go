package stage

import "github.com/ideaforge/ideaforge/pkg/model"

// ResolveInput picks the text a step works on: the output of the order named
// by UseOutputFrom when it has been produced, otherwise the user input.
func ResolveInput(step model.WorkflowStep, userInput string, outputs map[int]string) string {
	if step.UseOutputFrom == nil {
		return userInput
	}
	if out, ok := outputs[*step.UseOutputFrom]; ok {
		return out
	}
	return userInput
}
