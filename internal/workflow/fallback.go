package workflow

import "math/rand/v2"

// FallbackResponses are the placeholder replies used when the chat workflow is unavailable
var FallbackResponses = [...]string{
	"I'm here to help! This is a mock response. Connect n8n workflows for real AI processing.",
	"That's an interesting question! Once n8n workflows are configured, I'll provide intelligent responses.",
	"I understand your request. The n8n integration will enable advanced AI capabilities.",
	"Great question! Configure the n8n webhook URLs to unlock full AI agent functionality.",
}

// Fallback returns one of the placeholder replies
func Fallback() string {
	return FallbackResponses[rand.IntN(len(FallbackResponses))]
}

// IsFallback reports whether s is one of the placeholder replies
func IsFallback(s string) bool {
	for _, r := range FallbackResponses {
		if r == s {
			return true
		}
	}
	return false
}
