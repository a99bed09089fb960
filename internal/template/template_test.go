package template

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) Node {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	node, err := Parse(v)
	require.NoError(t, err)
	return node
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	node := mustParse(t, `{
		"model": "{{model}}",
		"messages": [{"role": "user", "content": "Summarize: {{text}}"}]
	}`)

	out := node.Render(map[string]interface{}{
		"model": "gpt-4o-mini",
		"text":  "hello world",
	}).(map[string]interface{})

	assert.Equal(t, "gpt-4o-mini", out["model"])
	msgs := out["messages"].([]interface{})
	msg := msgs[0].(map[string]interface{})
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "Summarize: hello world", msg["content"])
}

func TestRenderCoercesNumericStrings(t *testing.T) {
	node := mustParse(t, `{"max_tokens": "{{maxTokens}}", "temperature": "0.2", "top_k": "800"}`)

	out := node.Render(map[string]interface{}{"maxTokens": 800}).(map[string]interface{})

	assert.Equal(t, int64(800), out["max_tokens"])
	assert.Equal(t, 0.2, out["temperature"])
	assert.Equal(t, int64(800), out["top_k"])
}

func TestRenderCoercesDecimalSubstitution(t *testing.T) {
	node := mustParse(t, `{"v": "{{v}}"}`)
	out := node.Render(map[string]interface{}{"v": "800.5"}).(map[string]interface{})
	assert.Equal(t, 800.5, out["v"])
}

func TestRenderKeepsNonStringLeaves(t *testing.T) {
	node := mustParse(t, `{"stream": false, "n": 1, "stop": null}`)
	out := node.Render(nil).(map[string]interface{})

	assert.Equal(t, false, out["stream"])
	assert.Equal(t, float64(1), out["n"])
	assert.Nil(t, out["stop"])
}

func TestUnknownPlaceholderRendersEmpty(t *testing.T) {
	node := ParseString("prefix-{{missing}}-suffix")
	assert.Equal(t, "prefix--suffix", node.RenderString(nil))
}

func TestRenderStringDoesNotCoerce(t *testing.T) {
	node := ParseString("{{port}}")
	assert.Equal(t, "8082", node.RenderString(map[string]interface{}{"port": 8082}))
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, int64(800), Coerce("800"))
	assert.Equal(t, int64(-7), Coerce("-7"))
	assert.Equal(t, 800.5, Coerce("800.5"))
	assert.Equal(t, "800.5.1", Coerce("800.5.1"))
	assert.Equal(t, "", Coerce(""))
	assert.Equal(t, "8e3", Coerce("8e3"))
	assert.Equal(t, "Bearer 123", Coerce("Bearer 123"))
}
