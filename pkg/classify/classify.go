// Package classify assigns a document category from generated content.
package classify

import (
	"regexp"
	"strings"

	"github.com/ideaforge/ideaforge/pkg/model"
)

type rule struct {
	category model.Category
	pattern  *regexp.Regexp
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{model.CategoryFrontend, wordSet(
		"frontend", "front-end", "user interface", "ui", "ux",
		"components?", "react", "vue", "angular", "svelte",
		"pages?", "screens?", "navigation", "buttons?",
	)},
	{model.CategoryBackend, wordSet(
		"apis?", "endpoints?", "servers?", "backends?", "back-ends?",
		"databases?", "sql", "schemas?", "rest", "graphql", "queries",
		"microservices?", "authentication", "middlewares?",
	)},
	{model.CategoryCSS, wordSet(
		"css", "stylesheets?", "style guides?", "styles?", "styling",
		"colou?rs?", "colou?r palettes?", "layouts?", "typography",
		"fonts?", "tailwind", "sass", "scss", "themes?",
	)},
}

// wordSet matches any of words as whole words. Plurals are spelled out in
// the alternatives so "rapid" never matches "api".
func wordSet(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + strings.Join(words, "|") + `)\b`)
}

// Classify returns the category for content, falling back to hint (usually
// the document title) and finally to frontend.
func Classify(content, hint string) model.Category {
	if c, ok := match(content); ok {
		return c
	}
	if c, ok := match(hint); ok {
		return c
	}
	return model.CategoryFrontend
}

func match(text string) (model.Category, bool) {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.category, true
		}
	}
	return "", false
}
