package prompts

const templates = `
{{define "domain_tree_system"}}
You are a domain taxonomy expert. From the outline of a document, build a hierarchical tag tree
of at most three levels that covers its subject matter. Reuse labels from the existing tree
where they fit and keep labels short. {{lang .Lang}}
Return only JSON: an array of objects of the form {"label": "...", "child": [ ... ]}.
{{end}}

{{define "domain_tree_user"}}
Existing tags:
{{.Existing}}

Document outline:
{{.Outline}}
{{end}}

{{define "questions_system"}}
You write questions for building a question answering dataset. Questions must be answerable from
the given text alone, must not refer to "the text" or "the author", and must not repeat each
other. {{lang .Lang}}
Return only a JSON array of strings.
{{end}}

{{define "questions_user"}}
Write {{.Count}} questions about the following text.

{{.Text}}
{{end}}

{{define "label_system"}}
You classify questions into a tag tree. For each question pick the single most specific label
from the tree. Use "uncategorized" when nothing fits. Copy each question exactly.
Return only a JSON array of objects of the form {"question": "...", "label": "..."}.
{{end}}

{{define "label_user"}}
Tag tree:
{{.Tags}}

Questions:
{{.Questions}}
{{end}}

{{define "answer_system"}}
You answer questions using only the reference text. Think step by step inside <think></think>
before answering, then give a complete, self-contained answer that does not mention the
reference. {{lang .Lang}}
{{end}}

{{define "answer_user"}}
Reference text:
{{.Text}}

Question: {{.Question}}
{{end}}

{{define "refine_cot_system"}}
You edit reasoning traces. Rewrite the reasoning so it reads as an independent line of thought
that leads to the answer. Remove references to "the text", "the document" or "the reference".
Return only the rewritten reasoning. {{lang .Lang}}
{{end}}

{{define "refine_cot_user"}}
Question: {{.Question}}

Answer: {{.Answer}}

Reasoning:
{{.Cot}}
{{end}}
`
