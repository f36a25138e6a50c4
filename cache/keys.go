package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// hashQuery folds a query into a short stable token. Queries are lowercased
// and trimmed first so trivially different spellings share an entry.
func hashQuery(q string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(strings.ToLower(q))))
	return hex.EncodeToString(sum[:8])
}

// SearchKey is the cache key for a provider search with a result limit.
func SearchKey(query string, maxResults int) string {
	return fmt.Sprintf("brave_search:%s:%d", hashQuery(query), maxResults)
}

// ResearchKey is the cache key for a full research run on a question.
func ResearchKey(question string) string {
	return "research:" + hashQuery(question)
}

// ConversationKey is the cache key for a session's conversation history.
func ConversationKey(sessionID string) string {
	return "conversation_history:" + sessionID
}
