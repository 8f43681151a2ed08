package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/awaregh/platform/pkg/models"
)

func testContext() *StepContext {
	steps := []*models.Step{
		{
			StepKey: "fetch",
			Status:  models.StepStatusCompleted,
			Output: map[string]any{
				"statusCode": float64(200),
				"body":       map[string]any{"name": "widget", "tags": []any{"a", "b"}},
			},
		},
		{
			StepKey: "pending",
			Status:  models.StepStatusPending,
		},
	}
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewStepContext(
		map[string]any{"value": float64(20), "user": map[string]any{"email": "a@b.co"}},
		steps,
		map[string]any{"ENV": "test"},
		func() time.Time { return fixed },
	)
}

func TestInterpolate(t *testing.T) {
	sc := testContext()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"input path", "value={{input.value}}", "value=20"},
		{"nested input", "{{input.user.email}}", "a@b.co"},
		{"step output", "{{steps[\"fetch\"].output.statusCode}}", "200"},
		{"step body field", "{{steps[\"fetch\"].output.body.name}}", "widget"},
		{"array index", "{{steps[\"fetch\"].output.body.tags[1]}}", "b"},
		{"env", "{{env.ENV}}", "test"},
		{"now", "at {{now}}", "at 2025-06-01T12:00:00Z"},
		{"missing path is empty", "[{{input.nope.deeper}}]", "[]"},
		{"unknown root is empty", "[{{secrets.key}}]", "[]"},
		{"incomplete step invisible", "[{{steps[\"pending\"].output.x}}]", "[]"},
		{"multiple", "{{input.value}}-{{env.ENV}}", "20-test"},
		{"no templates", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sc.Interpolate(tt.in))
		})
	}
}

func TestInterpolateValueWalksLeaves(t *testing.T) {
	sc := testContext()
	out := sc.InterpolateValue(map[string]any{
		"literal": float64(7),
		"templated": map[string]any{
			"email": "{{input.user.email}}",
		},
		"list": []any{"{{env.ENV}}", true},
	})
	want := map[string]any{
		"literal": float64(7),
		"templated": map[string]any{
			"email": "a@b.co",
		},
		"list": []any{"test", true},
	}
	assert.Equal(t, want, out)
}

func TestEvalBool(t *testing.T) {
	sc := testContext()

	tests := []struct {
		expr string
		want bool
	}{
		{"input.value > 10", true},
		{"input.value > 100", false},
		{"input.value == 20", true},
		{"input.value != 20", false},
		{"input.value >= 20 && env.ENV == 'test'", true},
		{"input.value < 5 || env.ENV == 'test'", true},
		{"!(input.value > 10)", false},
		{"steps[\"fetch\"].output.statusCode < 400", true},
		{"steps[\"fetch\"].output.body.name == 'widget'", true},
		{"input.missing", false},
		{"input.user", true},
		// malformed expressions evaluate to false, never error out
		{"input.value >", false},
		{"(((", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, sc.EvalBool(tt.expr))
		})
	}
}

func TestEvalNeverExposesHostState(t *testing.T) {
	sc := testContext()
	for _, expr := range []string{"os.Getenv", "runtime.GOOS", "process.env.SECRET", "__proto__"} {
		val, err := sc.Eval(expr)
		if err == nil {
			assert.Nil(t, val, "expression %q must not resolve", expr)
		}
	}
}
