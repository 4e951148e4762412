package llm

import (
	"fmt"
	"regexp"
	"strings"
)

const summariseInstructions = `Please analyze this academic paper and provide:
1. A concise summary (2-3 paragraphs)
2. Key findings and contributions (as bullet points)
3. Methodology used
4. Main conclusions`

const narrationInstructions = `You are preparing an academic paper for audio narration.

Rewrite the paper below as a script for text-to-speech:
- Begin with a short introduction drawn from the abstract.
- Skip keywords, author lists, and affiliations.
- Skip the abstract section when reading the main body.
- Remove in-text citations such as [1] or (Author et al., 2023).
- Skip figures, tables, and equations.
- Make the content flow naturally for listening.

Respond with the script text only.`

const dialogInstructions = `You are writing a two-host podcast episode about an academic paper.

HOST leads the conversation and GUEST is the paper expert. Keep the tone
conversational, cover the motivation, methods, findings, and limitations,
and close with practical takeaways.

Respond only with JSON shaped as:
{"dialog": [{"speaker": "HOST", "text": "..."}, {"speaker": "GUEST", "text": "..."}]}`

const titleInstructions = `Suggest a concise title for the academic paper below.
Respond with the title only, without quotes.`

func summarisePrompt(paperText string) string {
	return fmt.Sprintf(`%s

Paper text:
%s

Please structure your response as JSON with keys: summary, key_points, methodology, conclusions`,
		summariseInstructions, paperText)
}

func narrationPrompt(text string) string {
	return fmt.Sprintf("%s\n\n---\n\n%s\n\nGenerate the TTS script now:", narrationInstructions, text)
}

func dialogPrompt(title, text string) string {
	var b strings.Builder
	b.WriteString(dialogInstructions)
	if title != "" {
		fmt.Fprintf(&b, "\n\nPaper title: %s", title)
	}
	fmt.Fprintf(&b, "\n\nPaper text:\n%s", text)
	return b.String()
}

func titlePrompt(text string) string {
	return fmt.Sprintf("%s\n\n%s", titleInstructions, head(text, 4000))
}

func topicPrompt(topicName string, papers []TopicPaper) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are narrating a collection of academic papers on the topic %q.
Write one continuous script that introduces the topic, presents each paper
in turn, and speaks a short segue between papers. Respond with the script
text only.`, topicName)
	for i, p := range papers {
		fmt.Fprintf(&b, "\n\nPaper %d: %s\n%s", i+1, p.Title, p.Text)
	}
	return b.String()
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON digs a JSON object out of model output that may be wrapped in
// prose or a fenced code block.
func extractJSON(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return ""
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
