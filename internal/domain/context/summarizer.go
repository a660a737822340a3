package context

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer produces a condensed summary of a message history.
type Summarizer interface {
	// Summarize generates a conversation summary.
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// ModelClient is the minimal LLM interface a Summarizer needs.
type ModelClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMSummarizer summarizes via a model call.
type LLMSummarizer struct {
	client          ModelClient
	maxInputTokens  int
	maxOutputTokens int
	summaryPrompt   string
}

// SummarizerConfig configures an LLMSummarizer.
type SummarizerConfig struct {
	MaxInputTokens  int    // max tokens of input messages to include
	MaxOutputTokens int    // max tokens of the generated summary
	CustomPrompt    string // custom summary prompt template, if set
}

// DefaultSummarizerConfig returns sane summarizer defaults.
func DefaultSummarizerConfig() *SummarizerConfig {
	return &SummarizerConfig{
		MaxInputTokens:  8000,
		MaxOutputTokens: 500,
		CustomPrompt:    "",
	}
}

// NewLLMSummarizer creates an LLMSummarizer. A nil config uses the defaults.
func NewLLMSummarizer(client ModelClient, config *SummarizerConfig) *LLMSummarizer {
	if config == nil {
		config = DefaultSummarizerConfig()
	}

	prompt := config.CustomPrompt
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}

	return &LLMSummarizer{
		client:          client,
		maxInputTokens:  config.MaxInputTokens,
		maxOutputTokens: config.MaxOutputTokens,
		summaryPrompt:   prompt,
	}
}

const defaultSummaryPrompt = `Compress the following conversation history into a concise summary, preserving:
1. The user's core goals and requirements
2. Important actions taken and decisions made
3. Key code changes or configuration changes
4. Unresolved issues or pending follow-ups

Keep the summary under 300 words, as a bullet list.

Conversation history:
%s

Summary:`

// Summarize generates a conversation summary via the model client.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	tokenizer := NewSimpleTokenizer()
	totalTokens := 0

	for _, msg := range messages {
		line := fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content)
		lineTokens := tokenizer.Count(line)

		if totalTokens+lineTokens > s.maxInputTokens {
			sb.WriteString("... (earlier messages omitted)\n")
			break
		}

		sb.WriteString(line)
		totalTokens += lineTokens
	}

	prompt := fmt.Sprintf(s.summaryPrompt, sb.String())

	summary, err := s.client.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	return summary, nil
}

// SummarizePruner combines a Pruner with summary generation for the dropped middle.
type SummarizePruner struct {
	*Pruner
	summarizer Summarizer
	summaryMsg *Message // cached summary message
}

// NewSummarizePruner creates a SummarizePruner over the given Tokenizer and Summarizer.
func NewSummarizePruner(config *PruneConfig, tokenizer Tokenizer, summarizer Summarizer) *SummarizePruner {
	config.Strategy = PruneSummarize
	return &SummarizePruner{
		Pruner:     NewPruner(config, tokenizer),
		summarizer: summarizer,
	}
}

// PruneWithSummary prunes messages, replacing the dropped middle with a generated summary.
func (p *SummarizePruner) PruneWithSummary(ctx context.Context, messages []Message) ([]Message, error) {
	if !p.NeedsPruning(messages) {
		return messages, nil
	}

	var systemMsgs, dialogMsgs []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			systemMsgs = append(systemMsgs, msg)
		} else {
			dialogMsgs = append(dialogMsgs, msg)
		}
	}

	recentCount := p.config.PreserveRecent
	if recentCount > len(dialogMsgs) {
		recentCount = len(dialogMsgs)
	}

	recentMsgs := dialogMsgs[len(dialogMsgs)-recentCount:]
	oldMsgs := dialogMsgs[:len(dialogMsgs)-recentCount]

	if len(oldMsgs) > 0 && p.summarizer != nil {
		summary, err := p.summarizer.Summarize(ctx, oldMsgs)
		if err != nil {
			// Summarization failed — fall back to plain pruning.
			return p.Prune(messages), nil
		}

		p.summaryMsg = &Message{
			Role:    "system",
			Content: fmt.Sprintf("[conversation summary]\n%s", summary),
		}
	}

	result := make([]Message, 0, len(systemMsgs)+1+len(recentMsgs))
	result = append(result, systemMsgs...)
	if p.summaryMsg != nil {
		result = append(result, *p.summaryMsg)
	}
	result = append(result, recentMsgs...)

	return result, nil
}

// GetLastSummary returns the most recently generated summary, if any.
func (p *SummarizePruner) GetLastSummary() string {
	if p.summaryMsg != nil {
		return p.summaryMsg.Content
	}
	return ""
}

// SimpleSummarizer is a keyword-based summarizer with no LLM dependency, for tests.
type SimpleSummarizer struct{}

// NewSimpleSummarizer creates a SimpleSummarizer.
func NewSimpleSummarizer() *SimpleSummarizer {
	return &SimpleSummarizer{}
}

// Summarize extracts lines that look informative via keyword matching.
func (s *SimpleSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var points []string

	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		if strings.Contains(content, "error") ||
			strings.Contains(content, "done") ||
			strings.Contains(content, "created") ||
			strings.Contains(content, "modified") {
			summary := msg.Content
			if len(summary) > 100 {
				summary = summary[:100] + "..."
			}
			points = append(points, fmt.Sprintf("- [%s] %s", msg.Role, summary))
		}
	}

	if len(points) == 0 {
		return fmt.Sprintf("%d historical messages", len(messages)), nil
	}

	if len(points) > 10 {
		points = points[len(points)-10:]
	}

	return strings.Join(points, "\n"), nil
}
