package engine

import (
	"fmt"

	"github.com/awaregh/platform/pkg/models"
)

// ValidateDefinition checks every structural invariant of a workflow
// definition: key consistency, reference integrity, per-type config
// requirements, and acyclicity. It runs on create, update, and run start.
func ValidateDefinition(def *models.WorkflowDefinition) error {
	var fields []models.FieldError
	add := func(path, msg string) {
		fields = append(fields, models.FieldError{Path: path, Message: msg})
	}

	if len(def.Nodes) == 0 {
		add("nodes", "definition has no nodes")
	}
	if def.Entrypoint == "" {
		add("entrypoint", "entrypoint is required")
	} else if _, ok := def.Nodes[def.Entrypoint]; !ok {
		add("entrypoint", fmt.Sprintf("entrypoint %q is not a node", def.Entrypoint))
	}

	for key, node := range def.Nodes {
		path := "nodes." + key
		if node.ID != key {
			add(path+".id", fmt.Sprintf("node id %q does not match its key", node.ID))
		}
		for _, next := range node.Next {
			if _, ok := def.Nodes[next]; !ok {
				add(path+".next", fmt.Sprintf("successor %q is not a node", next))
			}
		}
		validateNodeConfig(path, node, def, add)
	}

	for i, edge := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := def.Nodes[edge.From]; !ok {
			add(path+".from", fmt.Sprintf("%q is not a node", edge.From))
		}
		if _, ok := def.Nodes[edge.To]; !ok {
			add(path+".to", fmt.Sprintf("%q is not a node", edge.To))
		}
	}

	if len(fields) == 0 {
		if cycle := findCycle(def); cycle != "" {
			add("edges", "definition contains a cycle through "+cycle)
		}
	}

	if len(fields) > 0 {
		return models.NewValidationError("invalid workflow definition", fields...)
	}
	return nil
}

func validateNodeConfig(path string, node models.Node, def *models.WorkflowDefinition, add func(path, msg string)) {
	switch cfg := node.Config.(type) {
	case models.AICompletionConfig:
		if cfg.UserPromptTemplate == "" {
			add(path+".config.userPromptTemplate", "prompt template is required")
		}
	case models.HTTPRequestConfig:
		if cfg.URL == "" {
			add(path+".config.url", "url is required")
		}
	case models.ConditionConfig:
		if cfg.Expression == "" {
			add(path+".config.expression", "expression is required")
		}
		if cfg.TrueBranch != "" {
			if _, ok := def.Nodes[cfg.TrueBranch]; !ok {
				add(path+".config.trueBranch", fmt.Sprintf("%q is not a node", cfg.TrueBranch))
			}
		}
		if cfg.FalseBranch != "" {
			if _, ok := def.Nodes[cfg.FalseBranch]; !ok {
				add(path+".config.falseBranch", fmt.Sprintf("%q is not a node", cfg.FalseBranch))
			}
		}
	case models.TransformConfig:
		if cfg.Template == nil {
			add(path+".config.template", "template is required")
		}
	case models.DelayConfig:
		if cfg.DelayMs < 0 {
			add(path+".config.delayMs", "delay must not be negative")
		}
	case models.WebhookConfig:
		if cfg.WebhookURL == "" {
			add(path+".config.webhookUrl", "webhook url is required")
		}
	default:
		add(path+".type", fmt.Sprintf("unknown node type %q", node.Type))
	}
}

// successorsOf lists every key a completed node can lead to: declared next
// keys, edge targets, and condition branches.
func successorsOf(def *models.WorkflowDefinition, key string) []string {
	seen := make(map[string]bool)
	var out []string
	appendKey := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	node := def.Nodes[key]
	for _, next := range node.Next {
		appendKey(next)
	}
	for _, edge := range def.Edges {
		if edge.From == key {
			appendKey(edge.To)
		}
	}
	if cfg, ok := node.Config.(models.ConditionConfig); ok {
		appendKey(cfg.TrueBranch)
		appendKey(cfg.FalseBranch)
	}
	return out
}

// findCycle runs a three-color DFS over the combined successor relation and
// returns a node on a cycle, or "" when the graph is acyclic.
func findCycle(def *models.WorkflowDefinition) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(def.Nodes))

	var visit func(key string) string
	visit = func(key string) string {
		color[key] = gray
		for _, next := range successorsOf(def, key) {
			switch color[next] {
			case gray:
				return next
			case white:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		color[key] = black
		return ""
	}

	for key := range def.Nodes {
		if color[key] == white {
			if hit := visit(key); hit != "" {
				return hit
			}
		}
	}
	return ""
}
