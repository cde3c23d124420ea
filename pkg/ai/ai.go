// Package ai holds the LLM clients used to normalise free-form track names
// into a clean (title, artist) pair.
package ai

// AiInterface 单轮文本问答
type AiInterface interface {
	Name() string
	HandleText(string) (string, error)
}
