package prompt

import "strings"

// Variables supplied to every agent template.
const (
	VarInput     = "input"
	VarUserInput = "user_input"
	VarLanguage  = "language"
)

// Compose renders an agent template for one step. When the template uses
// neither input variable the resolved input is appended after a blank line,
// so raw system prompts still see the text they act on.
func Compose(r Renderer, template, input, userInput, language string) (string, error) {
	if r == nil {
		r = NewRenderer()
	}
	vars := map[string]string{
		VarInput:     input,
		VarUserInput: userInput,
		VarLanguage:  language,
	}
	out, err := r.Render(template, vars)
	if err != nil {
		return "", err
	}
	if References(template, VarInput) || References(template, VarUserInput) {
		return out, nil
	}
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return input, nil
	}
	return out + "\n\n" + input, nil
}
