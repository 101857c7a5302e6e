// Package response normalizes whatever a view or middleware returns
// into a ResponseDict (spec §3, §4.5).
//
// Spec §9 calls for modeling the raw_response_dict's "arbitrary shapes"
// as a tagged variant rather than a duck-typed mapping, so the renderer
// becomes a total function with no ambiguity to resolve at run time:
// each RawResponse implementation corresponds to exactly one rendering
// rule from spec §4.5.
package response

import (
	"bytes"
	"encoding/json"
	"text/template"

	"github.com/viewdeck/viewdeck/internal/logging"
	"github.com/viewdeck/viewdeck/viewerrors"
)

// RawResponse is the sum type a view or middleware returns. nil means
// "no response" (used by middlewares to signal pass-through, spec §4.4).
type RawResponse interface {
	isRawResponse()
}

// String populates ResponseDict.Text directly; content_type stays
// text/html (spec §4.5 rule 1).
type String string

func (String) isRawResponse() {}

// Template renders Name against Context using the external templating
// engine (spec §4.5 rule 5), grounded on hashicorp-hcat/template.go's
// use of stdlib text/template — no example repo wires a third-party
// template engine, so this core doesn't invent one.
type Template struct {
	Name    string
	Context interface{}
}

func (Template) isRawResponse() {}

// JSON serializes Value as JSON into Text and sets content_type to
// application/json (spec §4.5 rule 6).
type JSON struct {
	Value interface{}
}

func (JSON) isRawResponse() {}

// Redirect sets ResponseDict.Redirect (an in-framework view-to-view
// redirect, spec §4.5 rule 3).
type Redirect struct {
	URL string
}

func (Redirect) isRawResponse() {}

// HTTPRedirect sets ResponseDict.HTTPRedirect (spec §4.5 rule 4), also
// used directly by the Controller for http_pass_through routes
// (spec §4.6 step 3).
type HTTPRedirect struct {
	URL string
}

func (HTTPRedirect) isRawResponse() {}

// File sets ResponseDict.File; the transport collaborator resolves and
// streams it (spec §1: static-file serving is out of core scope).
type File struct {
	Path string
}

func (File) isRawResponse() {}

// Raw sets Status/ContentType/Text directly, for views that already
// have a rendered payload.
type Raw struct {
	Status      int
	ContentType string
	Text        string
}

func (Raw) isRawResponse() {}

// Dict is the normalized ResponseDict (spec §3). Exactly one of Text,
// File, Redirect, HTTPRedirect is populated on a well-formed response.
type Dict struct {
	Status       int
	ContentType  string
	Text         string
	File         string
	Redirect     string
	HTTPRedirect string
}

// TemplateRenderer executes a named template against a context value.
// Implementations back this with text/template (the core's own
// default, see NewTextTemplateRenderer) or an external engine.
type TemplateRenderer interface {
	Render(name string, context interface{}) (string, error)
}

// TextTemplateRenderer backs TemplateRenderer with stdlib text/template,
// the one templating approach the example corpus actually exercises.
type TextTemplateRenderer struct {
	templates map[string]*template.Template
}

// NewTextTemplateRenderer builds a renderer from named template sources.
func NewTextTemplateRenderer(sources map[string]string) (*TextTemplateRenderer, error) {
	r := &TextTemplateRenderer{templates: make(map[string]*template.Template, len(sources))}
	for name, src := range sources {
		tmpl, err := template.New(name).Parse(src)
		if err != nil {
			return nil, viewerrors.Wrapf(err, "failed to parse template %s", name)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render implements TemplateRenderer.
func (r *TextTemplateRenderer) Render(name string, context interface{}) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", viewerrors.Newf("response: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", viewerrors.Wrapf(err, "failed to render template %s", name)
	}
	return buf.String(), nil
}

// Render normalizes raw into a Dict, applying spec §4.5's rules. viewName
// identifies the source for logs; renderer may be nil unless raw is a
// Template.
func Render(raw RawResponse, viewName string, renderer TemplateRenderer) Dict {
	switch v := raw.(type) {
	case String:
		return Dict{Status: 200, ContentType: "text/html", Text: string(v)}

	case Raw:
		status := v.Status
		if status == 0 {
			status = 200
		}
		contentType := v.ContentType
		if contentType == "" {
			contentType = "text/html"
		}
		return Dict{Status: status, ContentType: contentType, Text: v.Text}

	case Redirect:
		return Dict{Status: 200, Redirect: v.URL}

	case HTTPRedirect:
		return Dict{Status: 200, HTTPRedirect: v.URL}

	case File:
		return Dict{Status: 200, File: v.Path}

	case Template:
		if renderer == nil {
			logging.Log.Warnw("response: template response with no renderer configured", "view", viewName, "template", v.Name)
			return Dict{Status: 500, ContentType: "text/html", Text: ""}
		}
		text, err := renderer.Render(v.Name, v.Context)
		if err != nil {
			logging.Log.Warnw("response: template render failed", "view", viewName, "template", v.Name, "error", err)
			return Dict{Status: 500, ContentType: "text/html", Text: ""}
		}
		return Dict{Status: 200, ContentType: "text/html", Text: text}

	case JSON:
		payload, err := json.Marshal(v.Value)
		if err != nil {
			logging.Log.Warnw("response: json marshal failed", "view", viewName, "error", err)
			return Dict{Status: 500, ContentType: "application/json", Text: ""}
		}
		return Dict{Status: 200, ContentType: "application/json", Text: string(payload)}

	default:
		logging.Log.Warnw("response: unrecognized raw response type, ignoring", "view", viewName)
		return Dict{Status: 200, ContentType: "text/html"}
	}
}
