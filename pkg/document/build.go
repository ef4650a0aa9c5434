// Package document turns a successful run into persisted documents.
package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ideaforge/ideaforge/pkg/classify"
	"github.com/ideaforge/ideaforge/pkg/model"
)

// Build returns one document per document-producing step with non-empty
// output. Failed runs produce nothing.
func Build(wf *model.Workflow, agents model.AgentLookup, result *model.ExecutionResult) []model.Document {
	if wf == nil || result == nil || !result.Success {
		return nil
	}

	now := time.Now().UTC()
	var docs []model.Document
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if !step.ProducesDocument() {
			continue
		}
		content := strings.TrimSpace(stepOutput(result, i, step.Order))
		if content == "" {
			continue
		}

		var agent *model.Agent
		if agents != nil {
			agent, _ = agents.Agent(step.AgentID)
		}
		title := Title(wf, i, agent)
		docs = append(docs, model.Document{
			ID:        uuid.NewString(),
			Title:     title,
			Category:  category(step, agent, content, title),
			Content:   content,
			StepOrder: step.Order,
			AgentID:   step.AgentID,
			CreatedAt: now,
		})
	}
	return docs
}

// Title is the step's document title, else the agent's name, else a
// positional fallback.
func Title(wf *model.Workflow, index int, agent *model.Agent) string {
	if t := strings.TrimSpace(wf.Steps[index].DocumentTitle); t != "" {
		return t
	}
	if agent != nil && strings.TrimSpace(agent.Name) != "" {
		return strings.TrimSpace(agent.Name)
	}
	return fmt.Sprintf("%s - Step %d", wf.Name, index+1)
}

func category(step *model.WorkflowStep, agent *model.Agent, content, title string) model.Category {
	if step.DocumentCategory.Valid() {
		return step.DocumentCategory
	}
	if agent != nil && agent.DocumentCategory.Valid() {
		return agent.DocumentCategory
	}
	return classify.Classify(content, title)
}

// stepOutput prefers the per-step output and falls back to the order's.
func stepOutput(result *model.ExecutionResult, index, order int) string {
	if out, ok := result.StepOutputs[index]; ok {
		return out
	}
	return result.Outputs[order]
}
