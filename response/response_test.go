package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_String(t *testing.T) {
	d := Render(String("hi"), "hello", nil)
	assert.Equal(t, 200, d.Status)
	assert.Equal(t, "text/html", d.ContentType)
	assert.Equal(t, "hi", d.Text)
}

func TestRender_Redirect(t *testing.T) {
	d := Render(Redirect{URL: "/login"}, "secret", nil)
	assert.Equal(t, "/login", d.Redirect)
	assert.Empty(t, d.Text)
	assert.Empty(t, d.HTTPRedirect)
}

func TestRender_HTTPRedirect(t *testing.T) {
	d := Render(HTTPRedirect{URL: "/legacy"}, "legacy", nil)
	assert.Equal(t, "/legacy", d.HTTPRedirect)
}

func TestRender_JSON(t *testing.T) {
	d := Render(JSON{Value: map[string]int{"a": 1}}, "api", nil)
	assert.Equal(t, "application/json", d.ContentType)
	assert.JSONEq(t, `{"a":1}`, d.Text)
}

func TestRender_Template(t *testing.T) {
	renderer, err := NewTextTemplateRenderer(map[string]string{
		"greeting": "hello {{.Name}}",
	})
	require.NoError(t, err)

	d := Render(Template{Name: "greeting", Context: struct{ Name string }{"world"}}, "greet", renderer)
	assert.Equal(t, "hello world", d.Text)
	assert.Equal(t, "text/html", d.ContentType)
}

func TestRender_TemplateMissingRenderer(t *testing.T) {
	d := Render(Template{Name: "greeting"}, "greet", nil)
	assert.Equal(t, 500, d.Status)
}

func TestRender_Deterministic(t *testing.T) {
	raw := String("same every time")
	first := Render(raw, "hello", nil)
	second := Render(raw, "hello", nil)
	assert.Equal(t, first, second)
}

func TestRender_Raw_DefaultsStatusAndContentType(t *testing.T) {
	d := Render(Raw{Text: "x"}, "v", nil)
	assert.Equal(t, 200, d.Status)
	assert.Equal(t, "text/html", d.ContentType)
}
