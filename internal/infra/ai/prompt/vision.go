package prompt

import "strings"

// VisionSystemPrompt tells the model how to treat an image.
func VisionSystemPrompt() string {
	return `Look at this image and respond based on these rules:
1. If there's text with a question, provide a detailed answer.
2. If there's text with instructions, follow them precisely.
3. If it's just an image without text, provide a brief but descriptive analysis.
Important: Keep responses concise and direct. No introductions or explanations.`
}

// VisionUserPrompt is sent alongside the image. extra is an optional hint from the caller.
func VisionUserPrompt(extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return "Analyze this image."
	}
	return "Analyze this image. " + extra
}
