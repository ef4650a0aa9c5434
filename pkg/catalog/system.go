package catalog

import "github.com/ideaforge/ideaforge/pkg/model"

// Identifiers of the seeded system agents.
const (
	AgentIdeaAnalysis        = "idea-analysis"
	AgentFrontendSpec        = "frontend-spec"
	AgentCSSGuide            = "css-guide"
	AgentBackendArchitecture = "backend-architecture"
	AgentDBSchema            = "db-schema"
)

func systemAgents() []*model.Agent {
	return []*model.Agent{
		{
			ID:          AgentIdeaAnalysis,
			Name:        "Idea Analysis",
			Description: "Turns a rough idea into a structured product brief.",
			PromptTemplate: `You are a senior product analyst. Analyze the following software idea and produce a structured brief covering the problem, target users, core features, non-functional requirements and open risks.
{{#if language}}Write the brief in {{language}}.{{/if}}

Idea:
{{input}}`,
			Temperature:      model.Float64Ptr(0.7),
			MaxTokens:        model.DefaultMaxTokens,
			DisplayOrder:     1,
			DocumentCategory: model.CategoryGeneric,
		},
		{
			ID:          AgentFrontendSpec,
			Name:        "Frontend Specification",
			Description: "Describes screens, components and navigation.",
			PromptTemplate: `You are a frontend architect. Based on the brief below, specify the pages, reusable components, navigation flow and client-side state of the application.
{{#if language}}Write the specification in {{language}}.{{/if}}

Brief:
{{input}}`,
			Temperature:      model.Float64Ptr(0.6),
			MaxTokens:        model.DefaultMaxTokens,
			DisplayOrder:     2,
			DocumentCategory: model.CategoryFrontend,
		},
		{
			ID:          AgentCSSGuide,
			Name:        "CSS Style Guide",
			Description: "Defines the visual language of the product.",
			PromptTemplate: `You are a UI designer. Based on the brief below, write a style guide with a color palette, typography scale, spacing rules and component styling conventions.
{{#if language}}Write the guide in {{language}}.{{/if}}

Brief:
{{input}}`,
			Temperature:      model.Float64Ptr(0.7),
			MaxTokens:        model.DefaultMaxTokens,
			DisplayOrder:     3,
			DocumentCategory: model.CategoryCSS,
		},
		{
			ID:          AgentBackendArchitecture,
			Name:        "Backend Architecture",
			Description: "Designs services, endpoints and integrations.",
			PromptTemplate: `You are a backend architect. Based on the brief below, describe the services, API endpoints, authentication, background jobs and external integrations the product needs.
{{#if language}}Write the design in {{language}}.{{/if}}

Brief:
{{input}}`,
			Temperature:      model.Float64Ptr(0.5),
			MaxTokens:        model.DefaultMaxTokens,
			DisplayOrder:     4,
			DocumentCategory: model.CategoryBackend,
		},
		{
			ID:          AgentDBSchema,
			Name:        "Database Schema",
			Description: "Proposes tables, relations and indexes.",
			PromptTemplate: `You are a database engineer. Based on the brief below, propose a relational schema with tables, columns, types, relations, constraints and indexes. Include SQL DDL.
{{#if language}}Explain the schema in {{language}}.{{/if}}

Brief:
{{input}}`,
			Temperature:      model.Float64Ptr(0.3),
			MaxTokens:        model.DefaultMaxTokens,
			DisplayOrder:     5,
			DocumentCategory: model.CategoryDBSchema,
		},
	}
}

// DefaultWorkflow is the stock pipeline over the system agents: the idea is
// analyzed first and each specialist then works from that analysis.
func DefaultWorkflow() *model.Workflow {
	from := model.IntPtr(0)
	return &model.Workflow{
		ID:          "default",
		Name:        "Full Product Specification",
		Description: "Idea analysis followed by frontend, styling, backend and database documents.",
		Active:      true,
		Steps: []model.WorkflowStep{
			{AgentID: AgentIdeaAnalysis, Order: 0, DocumentTitle: "Idea Analysis"},
			{AgentID: AgentFrontendSpec, Order: 1, UseOutputFrom: from, DocumentTitle: "Frontend Specification"},
			{AgentID: AgentCSSGuide, Order: 2, UseOutputFrom: from, DocumentTitle: "CSS Style Guide"},
			{AgentID: AgentBackendArchitecture, Order: 3, UseOutputFrom: from, DocumentTitle: "Backend Architecture"},
			{AgentID: AgentDBSchema, Order: 4, UseOutputFrom: from, DocumentTitle: "Database Schema"},
		},
	}
}
