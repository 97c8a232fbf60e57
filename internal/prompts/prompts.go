// Package prompts renders the chat messages sent to the model at each pipeline stage.
package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/hyperjump/dataforge/internal/llm"
	"github.com/hyperjump/dataforge/internal/models"
)

// Languages supported for generated content.
const (
	LangEnglish = "en"
	LangChinese = "zh"
)

// Custom holds user-supplied prompt additions appended to the stage system prompts.
type Custom struct {
	Global   string `json:"global_prompt,omitempty" yaml:"global_prompt" toml:"global_prompt"`
	Question string `json:"question_prompt,omitempty" yaml:"question_prompt" toml:"question_prompt"`
	Answer   string `json:"answer_prompt,omitempty" yaml:"answer_prompt" toml:"answer_prompt"`
}

var tmpl = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"lang": languageInstruction,
}).Parse(templates))

func languageInstruction(lang string) string {
	if lang == LangChinese {
		return "Respond in Simplified Chinese."
	}
	return "Respond in English."
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func messages(systemName, userName string, data any, extra ...string) ([]llm.Message, error) {
	system, err := render(systemName, data)
	if err != nil {
		return nil, err
	}
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			system += "\n\n" + e
		}
	}
	user, err := render(userName, data)
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.System(system), llm.User(user)}, nil
}

func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DomainTree asks for a tag forest for a document given its outline and the project's
// existing tags.
func DomainTree(lang, outline string, existing []*models.Tag, custom Custom) ([]llm.Message, error) {
	if existing == nil {
		existing = []*models.Tag{}
	}
	return messages("domain_tree_system", "domain_tree_user", map[string]any{
		"Lang":     lang,
		"Outline":  outline,
		"Existing": toJSON(existing),
	}, custom.Global)
}

// Questions asks for count questions about one chunk.
func Questions(lang, text string, count int, custom Custom) ([]llm.Message, error) {
	return messages("questions_system", "questions_user", map[string]any{
		"Lang":  lang,
		"Text":  text,
		"Count": count,
	}, custom.Global, custom.Question)
}

// LabelItem is one question sent for labeling.
type LabelItem struct {
	Question string `json:"question"`
}

// Label asks for the best tag of each question.
func Label(lang string, tags []*models.Tag, questions []string, custom Custom) ([]llm.Message, error) {
	items := make([]LabelItem, len(questions))
	for i, q := range questions {
		items[i] = LabelItem{Question: q}
	}
	return messages("label_system", "label_user", map[string]any{
		"Lang":      lang,
		"Tags":      toJSON(tags),
		"Questions": toJSON(items),
	}, custom.Global)
}

// Answer asks for an answer to question grounded on text.
func Answer(lang, text, question string, custom Custom) ([]llm.Message, error) {
	return messages("answer_system", "answer_user", map[string]any{
		"Lang":     lang,
		"Text":     text,
		"Question": question,
	}, custom.Global, custom.Answer)
}

// RefineCot asks for a cleaned-up chain of thought that leads to answer.
func RefineCot(lang, question, answer, cot string) ([]llm.Message, error) {
	return messages("refine_cot_system", "refine_cot_user", map[string]any{
		"Lang":     lang,
		"Question": question,
		"Answer":   answer,
		"Cot":      cot,
	})
}
