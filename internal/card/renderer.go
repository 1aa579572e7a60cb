// Package card turns Fieldwire tasks into Teams Adaptive Cards.
package card

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"fieldbridge/internal/fieldwire"
	logx "fieldbridge/pkg/logx"
)

// MaxPhotos is the number of attachments carried into a card.
const MaxPhotos = 3

const (
	SchemaURL     = "http://adaptivecards.io/schemas/adaptive-card.json"
	SchemaVersion = "1.4"
)

//go:embed templates/card.json.tmpl
var builtin embed.FS

// Document is a rendered Adaptive Card, ready to be wrapped in a Teams message.
type Document map[string]any

// Result is the outcome of one render. Doc is always usable; Fallback is set
// when the primary template could not produce it, with the reason in Err.
type Result struct {
	Doc      Document
	Fallback bool
	Err      error
}

type photo struct {
	Name string
	URL  string
}

type cardData struct {
	TaskID      string
	Title       string
	Status      string
	Description string
	DueDate     string
	AssignedTo  string
	Priority    string
	Photos      []photo
	Unlinked    []photo
}

// Renderer renders task cards from a text/template producing card JSON.
// A Renderer whose template failed to load still works: every card falls back.
type Renderer struct {
	tmpl    *template.Template
	loadErr error
	log     logx.Logger
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// New loads the template at path, or the built-in one when path is empty.
func New(path string, log logx.Logger) *Renderer {
	r := &Renderer{log: log}
	src, err := readTemplate(path)
	if err == nil {
		r.tmpl, err = template.New("card").Option("missingkey=error").Funcs(funcs).Parse(src)
	}
	if err != nil {
		r.loadErr = fmt.Errorf("loading card template: %w", err)
		log.Error("card template unavailable; using fallback cards", logx.String("path", path), logx.Err(err))
	}
	return r
}

func readTemplate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		b, err := builtin.ReadFile("templates/card.json.tmpl")
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

// Render never fails: it returns the primary card or the fallback.
func (r *Renderer) Render(task fieldwire.Task, atts []fieldwire.Attachment) Document {
	return r.RenderResult(task, atts).Doc
}

func (r *Renderer) RenderResult(task fieldwire.Task, atts []fieldwire.Attachment) Result {
	doc, err := r.primary(task, atts)
	if err != nil {
		r.log.Error("error generating card", logx.String("task", task.ID), logx.Err(err))
		return Result{Doc: Fallback(task), Fallback: true, Err: err}
	}
	r.log.Info("generated card", logx.String("task", task.ID))
	return Result{Doc: doc}
}

func (r *Renderer) primary(task fieldwire.Task, atts []fieldwire.Attachment) (Document, error) {
	if r.tmpl == nil {
		return nil, r.loadErr
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, newCardData(task, atts)); err != nil {
		return nil, fmt.Errorf("executing card template: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("card template produced invalid JSON: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("card template produced no object")
	}
	return doc, nil
}

func newCardData(task fieldwire.Task, atts []fieldwire.Attachment) cardData {
	d := cardData{
		TaskID:      task.ID,
		Title:       orDefault(task.DisplayTitle(), "Untitled Task"),
		Status:      orDefault(task.Status.String(), "unknown"),
		Description: strings.TrimSpace(task.Description),
		DueDate:     strings.TrimSpace(task.DueDate),
		AssignedTo:  orDefault(task.AssigneeName(), "Unassigned"),
		Priority:    orDefault(task.Priority.String(), "normal"),
	}
	if len(atts) > MaxPhotos {
		atts = atts[:MaxPhotos]
	}
	for _, a := range atts {
		p := photo{Name: orDefault(strings.TrimSpace(a.Name), "attachment"), URL: a.MediaURL()}
		if p.URL == "" {
			d.Unlinked = append(d.Unlinked, p)
			continue
		}
		d.Photos = append(d.Photos, p)
	}
	return d
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
