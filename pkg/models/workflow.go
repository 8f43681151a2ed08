// Package models defines the shared domain types for the workflow and
// builder services. Every entity is tenant scoped.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Workflow is a versioned DAG definition owned by a tenant.
type Workflow struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	Name       string             `json:"name"`
	Version    int                `json:"version"`
	Definition WorkflowDefinition `json:"definition"`
	IsActive   bool               `json:"is_active"`
	CreatedBy  string             `json:"created_by"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// WorkflowDefinition is immutable within a workflow version.
type WorkflowDefinition struct {
	Metadata   DefinitionMetadata `json:"metadata"`
	Nodes      map[string]Node    `json:"nodes"`
	Edges      []Edge             `json:"edges"`
	Entrypoint string             `json:"entrypoint"`
}

type DefinitionMetadata struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description,omitempty"`
}

type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NodeType tags the executor a node dispatches to.
type NodeType string

const (
	NodeAICompletion NodeType = "AI_COMPLETION"
	NodeHTTPRequest  NodeType = "HTTP_REQUEST"
	NodeCondition    NodeType = "CONDITION"
	NodeTransform    NodeType = "TRANSFORM"
	NodeDelay        NodeType = "DELAY"
	NodeWebhook      NodeType = "WEBHOOK"
)

// Node is a vertex of the workflow DAG. Config is a tagged variant keyed
// on Type; unmarshalling an unknown type fails rather than degrading to a
// raw map.
type Node struct {
	ID     string     `json:"id"`
	Type   NodeType   `json:"type"`
	Config NodeConfig `json:"config"`
	Next   []string   `json:"next,omitempty"`
}

// NodeConfig is implemented by exactly one config struct per node type.
type NodeConfig interface {
	nodeConfig()
}

type AICompletionConfig struct {
	SystemPrompt       string  `json:"systemPrompt,omitempty"`
	UserPromptTemplate string  `json:"userPromptTemplate"`
	Model              string  `json:"model,omitempty"`
	Temperature        float64 `json:"temperature,omitempty"`
	MaxTokens          int     `json:"maxTokens,omitempty"`
}

type HTTPRequestConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

type ConditionConfig struct {
	Expression  string `json:"expression"`
	TrueBranch  string `json:"trueBranch,omitempty"`
	FalseBranch string `json:"falseBranch,omitempty"`
}

type TransformConfig struct {
	Template map[string]any `json:"template"`
}

type DelayConfig struct {
	DelayMs int64 `json:"delayMs"`
}

type WebhookConfig struct {
	WebhookURL string `json:"webhookUrl"`
}

func (AICompletionConfig) nodeConfig() {}
func (HTTPRequestConfig) nodeConfig()  {}
func (ConditionConfig) nodeConfig()    {}
func (TransformConfig) nodeConfig()    {}
func (DelayConfig) nodeConfig()        {}
func (WebhookConfig) nodeConfig()      {}

type nodeAlias struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Config json.RawMessage `json:"config"`
	Next   []string        `json:"next,omitempty"`
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	n.ID = alias.ID
	n.Type = alias.Type
	n.Next = alias.Next

	raw := alias.Config
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	var (
		cfg NodeConfig
		err error
	)
	switch alias.Type {
	case NodeAICompletion:
		var c AICompletionConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case NodeHTTPRequest:
		var c HTTPRequestConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case NodeCondition:
		var c ConditionConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case NodeTransform:
		var c TransformConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case NodeDelay:
		var c DelayConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case NodeWebhook:
		var c WebhookConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	default:
		return fmt.Errorf("unknown node type %q", alias.Type)
	}
	if err != nil {
		return fmt.Errorf("node %s config: %w", alias.ID, err)
	}
	n.Config = cfg
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(n.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodeAlias{
		ID:     n.ID,
		Type:   n.Type,
		Config: raw,
		Next:   n.Next,
	})
}
