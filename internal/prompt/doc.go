// Package prompt implements prompt templating for the chain runtime:
// f-string style templates with declared variables, ordered chat message
// templates, a YAML-backed library of named prompts, and a keyword-driven
// few-shot example selector.
package prompt
