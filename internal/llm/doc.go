// Package llm contains adapters for invoking large language models. The
// engine uses them to translate a free-text task description into one of the
// registered task names plus parameters; provider-specific request and
// response handling lives in the subpackages.
package llm
