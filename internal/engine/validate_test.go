package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaregh/platform/pkg/models"
)

func validDefinition() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Metadata:   models.DefinitionMetadata{Name: "ok", Version: 1},
		Entrypoint: "a",
		Nodes: map[string]models.Node{
			"a": {ID: "a", Type: models.NodeTransform, Config: models.TransformConfig{Template: map[string]any{}}, Next: []string{"b"}},
			"b": {ID: "b", Type: models.NodeTransform, Config: models.TransformConfig{Template: map[string]any{}}},
		},
		Edges: []models.Edge{{From: "a", To: "b"}},
	}
}

func fieldPaths(t *testing.T, err error) []string {
	t.Helper()
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	paths := make([]string, len(ve.Fields))
	for i, f := range ve.Fields {
		paths[i] = f.Path
	}
	return paths
}

func TestValidateDefinition(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		def := validDefinition()
		assert.NoError(t, ValidateDefinition(&def))
	})

	t.Run("missing entrypoint node", func(t *testing.T) {
		def := validDefinition()
		def.Entrypoint = "ghost"
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "entrypoint")
	})

	t.Run("empty nodes", func(t *testing.T) {
		def := validDefinition()
		def.Nodes = map[string]models.Node{}
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "nodes")
	})

	t.Run("edge to missing node", func(t *testing.T) {
		def := validDefinition()
		def.Edges = append(def.Edges, models.Edge{From: "a", To: "ghost"})
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "edges[1].to")
	})

	t.Run("next to missing node", func(t *testing.T) {
		def := validDefinition()
		node := def.Nodes["b"]
		node.Next = []string{"ghost"}
		def.Nodes["b"] = node
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "nodes.b.next")
	})

	t.Run("node id mismatch", func(t *testing.T) {
		def := validDefinition()
		node := def.Nodes["b"]
		node.ID = "not-b"
		def.Nodes["b"] = node
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "nodes.b.id")
	})

	t.Run("condition branch to missing node", func(t *testing.T) {
		def := validDefinition()
		def.Nodes["c"] = models.Node{
			ID:     "c",
			Type:   models.NodeCondition,
			Config: models.ConditionConfig{Expression: "input.x > 1", TrueBranch: "ghost"},
		}
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "nodes.c.config.trueBranch")
	})

	t.Run("cycle via next", func(t *testing.T) {
		def := validDefinition()
		node := def.Nodes["b"]
		node.Next = []string{"a"}
		def.Nodes["b"] = node
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "edges")
	})

	t.Run("self cycle via edge", func(t *testing.T) {
		def := validDefinition()
		def.Edges = append(def.Edges, models.Edge{From: "b", To: "b"})
		assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), "edges")
	})

	t.Run("missing per-type config", func(t *testing.T) {
		tests := []struct {
			name string
			node models.Node
			path string
		}{
			{"ai prompt", models.Node{ID: "n", Type: models.NodeAICompletion, Config: models.AICompletionConfig{}}, "nodes.n.config.userPromptTemplate"},
			{"http url", models.Node{ID: "n", Type: models.NodeHTTPRequest, Config: models.HTTPRequestConfig{}}, "nodes.n.config.url"},
			{"condition expression", models.Node{ID: "n", Type: models.NodeCondition, Config: models.ConditionConfig{}}, "nodes.n.config.expression"},
			{"transform template", models.Node{ID: "n", Type: models.NodeTransform, Config: models.TransformConfig{}}, "nodes.n.config.template"},
			{"webhook url", models.Node{ID: "n", Type: models.NodeWebhook, Config: models.WebhookConfig{}}, "nodes.n.config.webhookUrl"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				def := models.WorkflowDefinition{
					Metadata:   models.DefinitionMetadata{Name: "t", Version: 1},
					Entrypoint: "n",
					Nodes:      map[string]models.Node{"n": tt.node},
				}
				assert.Contains(t, fieldPaths(t, ValidateDefinition(&def)), tt.path)
			})
		}
	})
}
