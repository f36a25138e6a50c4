package anser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/anserhq/anser/cache"
	"github.com/anserhq/anser/graph"
	"github.com/anserhq/anser/model"
	"github.com/anserhq/anser/model/ollama"
)

const (
	maxHistoryTurns = 20
	maxHistoryBytes = 8 * 1024
	conversationTTL = time.Hour

	safeFallbackResponse = "I'm sorry, but I couldn't complete that request. Please try again in a moment."
)

const classifyPromptTemplate = "Classify the user message into exactly one of these categories: " +
	"conversation, question, code, analysis, request, creative.\n" +
	"Respond with only the category name.\n\nMessage: %s"

// startNode and endNode bracket every graph. The start node records nothing
// beyond the query size; the end node exists so the engine has a terminal.
func startNode() graph.Node {
	return graph.NewNode("start", graph.KindStart, func(_ context.Context, st *graph.State) graph.NodeResult {
		return graph.Succeeded(map[string]interface{}{"query_length": len(st.Query)})
	})
}

func endNode() graph.Node {
	return graph.NewNode("end", graph.KindEnd, func(context.Context, *graph.State) graph.NodeResult {
		return graph.Succeeded(nil)
	})
}

// buildChatGraph assembles the conversational pipeline: context_manager
// shapes the query, intent_classifier picks the task type, response_generator
// produces the answer, cache_update persists the transcript. Any recoverable
// node failure detours through error_handler, which substitutes a fallback
// response and ends the run.
func (o *Orchestrator) buildChatGraph() (*graph.Engine, error) {
	eng := graph.New("chat", o.engineOptions()...)

	nodes := []graph.Node{
		startNode(),
		o.contextManagerNode(),
		o.intentClassifierNode(),
		o.responseGeneratorNode(),
		o.cacheUpdateNode(),
		o.chatErrorHandlerNode(),
		endNode(),
	}
	for _, n := range nodes {
		if err := eng.AddNode(n); err != nil {
			return nil, err
		}
	}

	edges := [][2]string{
		{"start", "context_manager"},
		{"context_manager", "intent_classifier"},
		{"intent_classifier", "response_generator"},
		{"response_generator", "cache_update"},
		{"cache_update", "end"},
		{"error_handler", "end"},
	}
	for _, e := range edges {
		if err := eng.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	if err := eng.Compile(); err != nil {
		return nil, err
	}
	return eng, nil
}

// userProfile is what the context manager infers about the person behind a
// conversation. It costs nothing to compute and rides along in the system
// prompt.
type userProfile struct {
	Expertise string
	Mood      string
	Topics    []string
}

func (p userProfile) prefix() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Context: %s user, %s mood", p.Expertise, p.Mood)
	if len(p.Topics) > 0 {
		b.WriteString("; recent topics: ")
		b.WriteString(strings.Join(p.Topics, ", "))
	}
	b.WriteString("]\n")
	return b.String()
}

func (o *Orchestrator) contextManagerNode() graph.Node {
	return graph.NewNode("context_manager", graph.KindProcessing, func(_ context.Context, st *graph.State) graph.NodeResult {
		capped, truncated := capHistory(st.History)
		if truncated {
			st.History = capped
			st.AppendWarning("context_manager", "history-truncated")
		}

		st.ProcessedQuery = st.Query
		data := map[string]interface{}{"history_turns": len(st.History)}
		if len(st.History) > 0 {
			p := inferProfile(st.History)
			st.SetIntermediate("user_profile", p)
			st.ProcessedQuery = p.prefix() + st.Query
			data["expertise"] = p.Expertise
			data["mood"] = p.Mood
			data["recent_topics"] = p.Topics
		}
		return graph.Succeeded(data)
	})
}

// capHistory trims a conversation to the most recent maxHistoryTurns turns
// and, below that, to maxHistoryBytes of content. Oldest turns go first; a
// single oversized turn is kept rather than losing the whole conversation.
func capHistory(turns []graph.Turn) ([]graph.Turn, bool) {
	truncated := false
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
		truncated = true
	}
	size := 0
	for _, t := range turns {
		size += len(t.Content)
	}
	for size > maxHistoryBytes && len(turns) > 1 {
		size -= len(turns[0].Content)
		turns = turns[1:]
		truncated = true
	}
	return turns, truncated
}

var technicalTerms = []string{
	"api", "code", "function", "error", "database",
	"deploy", "server", "bug", "compile", "config",
}

var frustrationPhrases = []string{
	"not working", "doesn't work", "still broken", "still failing", "again",
}

func inferProfile(history []graph.Turn) userProfile {
	p := userProfile{Expertise: "general", Mood: "neutral"}

	technical := 0
	questions := 0
	for _, t := range history {
		if t.Role != "user" {
			continue
		}
		lower := strings.ToLower(t.Content)
		for _, term := range technicalTerms {
			if strings.Contains(lower, term) {
				technical++
				break
			}
		}
		questions += strings.Count(t.Content, "?")
		for _, phrase := range frustrationPhrases {
			if strings.Contains(lower, phrase) {
				p.Mood = "frustrated"
				break
			}
		}
	}
	if technical >= 2 {
		p.Expertise = "technical"
	}
	if p.Mood == "neutral" && questions >= 3 {
		p.Mood = "curious"
	}
	p.Topics = recentTopics(history, 3)
	return p
}

// recentTopics summarizes the last few user turns, most recent first.
func recentTopics(history []graph.Turn, max int) []string {
	var topics []string
	seen := make(map[string]bool)
	for i := len(history) - 1; i >= 0 && len(topics) < max; i-- {
		if history[i].Role != "user" {
			continue
		}
		t := topicOf(history[i].Content)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
	}
	return topics
}

func topicOf(content string) string {
	words := strings.Fields(content)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.ToLower(strings.Trim(strings.Join(words, " "), "?!.,"))
}

func (o *Orchestrator) intentClassifierNode() graph.Node {
	return graph.NewNode("intent_classifier", graph.KindProcessing, func(ctx context.Context, st *graph.State) graph.NodeResult {
		if st.BudgetRemaining <= 0 {
			return keywordClassification(st)
		}

		out, err := o.services.Model.Generate(ctx, model.GenerateInput{
			TaskType:    "simple-classification",
			Quality:     graph.QualityMinimal,
			Prompt:      fmt.Sprintf(classifyPromptTemplate, st.Query),
			MaxTokens:   8,
			Temperature: 0,
		})
		if err != nil {
			o.logger.Debug("intent model unavailable, falling back to keyword rules",
				"correlation_id", st.CorrelationID, "error", err)
			return keywordClassification(st)
		}

		intent, ok := parseIntent(out.Text)
		method := "model"
		if !ok {
			intent = classifyByKeywords(st.Query)
			method = "keyword-rules"
		}
		st.Intent = intent

		res := graph.Succeeded(map[string]interface{}{
			"intent":                string(intent),
			"classification_method": method,
		})
		res.Cost = out.Cost
		res.ModelUsed = out.Model
		res.ExecutionTime = out.Seconds
		res.Confidence = out.Confidence
		return res
	})
}

func keywordClassification(st *graph.State) graph.NodeResult {
	intent := classifyByKeywords(st.Query)
	st.Intent = intent
	res := graph.Succeeded(map[string]interface{}{
		"intent":                string(intent),
		"classification_method": "keyword-rules",
	})
	res.Confidence = 0.5
	return res
}

// parseIntent reads a model's classification answer. Only the first token
// counts; chatty models that explain themselves lose to the keyword rules.
func parseIntent(text string) (graph.Intent, bool) {
	word := strings.TrimSpace(strings.ToLower(text))
	if i := strings.IndexFunc(word, unicode.IsSpace); i > 0 {
		word = word[:i]
	}
	word = strings.Trim(word, ".!\"'`")
	switch intent := graph.Intent(word); intent {
	case graph.IntentConversation, graph.IntentQuestion, graph.IntentCode,
		graph.IntentAnalysis, graph.IntentRequest, graph.IntentCreative:
		return intent, true
	}
	return graph.IntentUnknown, false
}

var greetingLeads = []string{"hello", "hi", "hey", "thanks", "thank you", "bye", "goodbye", "good morning", "good evening"}

// isGreeting matches only at the start of the message so "hi" inside another
// word does not count.
func isGreeting(lower string) bool {
	for _, g := range greetingLeads {
		if lower == g || strings.HasPrefix(lower, g+" ") ||
			strings.HasPrefix(lower, g+",") || strings.HasPrefix(lower, g+"!") {
			return true
		}
	}
	return false
}

var codeWords = []string{"code", "function", "debug", "compile", "implement", "refactor", "stack trace", "exception"}

var analysisWords = []string{"analyze", "analysis", "compare", "evaluate", "pros and cons", "trade-off", "tradeoff"}

var creativeWords = []string{"write a story", "poem", "brainstorm", "slogan", "creative"}

var requestWords = []string{"please ", "can you ", "could you ", "would you "}

// classifyByKeywords is the zero-cost fallback classifier. Rules are ordered
// from most to least specific so a coding question is not mistaken for small
// talk.
func classifyByKeywords(query string) graph.Intent {
	lower := strings.ToLower(strings.TrimSpace(query))
	switch {
	case containsAny(lower, codeWords):
		return graph.IntentCode
	case containsAny(lower, analysisWords):
		return graph.IntentAnalysis
	case containsAny(lower, creativeWords):
		return graph.IntentCreative
	case isGreeting(lower):
		return graph.IntentConversation
	case strings.HasSuffix(lower, "?") || hasQuestionLead(lower):
		return graph.IntentQuestion
	case containsAny(lower, requestWords):
		return graph.IntentRequest
	default:
		return graph.IntentConversation
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var questionLeads = []string{"what ", "how ", "why ", "when ", "where ", "who ", "which ", "is ", "are ", "does ", "do ", "can "}

func hasQuestionLead(lower string) bool {
	for _, lead := range questionLeads {
		if strings.HasPrefix(lower, lead) {
			return true
		}
	}
	return false
}

// taskTypeForIntent maps a classified intent onto the model selection task
// types the generator uses.
func taskTypeForIntent(i graph.Intent) string {
	if i == graph.IntentCode {
		return "code-tasks"
	}
	return "qa-and-summary"
}

func (o *Orchestrator) responseGeneratorNode() graph.Node {
	return graph.NewNode("response_generator", graph.KindProcessing, func(ctx context.Context, st *graph.State) graph.NodeResult {
		if st.BudgetRemaining <= 0 {
			res := graph.Failed("budget exhausted before response generation", true)
			res.Data = map[string]interface{}{"error_code": CodeBudget}
			return res
		}

		prompt := st.ProcessedQuery
		if prompt == "" {
			prompt = st.Query
		}
		if len(st.History) > 0 {
			prompt = renderHistory(st.History, 6) + "\n" + prompt
		}

		taskType := taskTypeForIntent(st.Intent)
		out, err := o.services.Model.Generate(ctx, model.GenerateInput{
			TaskType: taskType,
			Quality:  st.Quality,
			Prompt:   prompt,
			System:   chatSystemPrompt(st),
		})
		if err != nil {
			res := graph.Failed(fmt.Sprintf("response generation: %v", err), true)
			res.Data = map[string]interface{}{"error_code": classifyModelError(err)}
			return res
		}

		st.FinalResponse = out.Text
		res := graph.Succeeded(map[string]interface{}{
			"task_type":       taskType,
			"response_length": len(out.Text),
		})
		res.Cost = out.Cost
		res.ModelUsed = out.Model
		res.ExecutionTime = out.Seconds
		res.Confidence = out.Confidence
		return res
	})
}

func chatSystemPrompt(st *graph.State) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant.")
	switch style, _ := st.Intermediate["style"].(string); style {
	case "concise":
		b.WriteString(" Answer briefly.")
	case "detailed":
		b.WriteString(" Answer thoroughly, with examples where they help.")
	}
	if p, ok := st.Intermediate["user_profile"].(userProfile); ok {
		fmt.Fprintf(&b, " The user appears %s; their mood reads as %s.", p.Expertise, p.Mood)
	}
	return b.String()
}

// renderHistory formats the last max turns for inclusion in a prompt.
func renderHistory(turns []graph.Turn, max int) string {
	if len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	var b strings.Builder
	for _, t := range turns {
		role := "User"
		if t.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}
	return b.String()
}

func (o *Orchestrator) cacheUpdateNode() graph.Node {
	return graph.NewNode("cache_update", graph.KindProcessing, func(_ context.Context, st *graph.State) graph.NodeResult {
		if st.SessionID == "" || st.FinalResponse == "" {
			return graph.Succeeded(map[string]interface{}{"cached": false})
		}

		turns := make([]graph.Turn, 0, len(st.History)+2)
		turns = append(turns, st.History...)
		turns = append(turns,
			graph.Turn{Role: "user", Content: st.Query, Timestamp: st.StartedAt},
			graph.Turn{Role: "assistant", Content: st.FinalResponse, Timestamp: time.Now()},
		)
		payload, err := json.Marshal(turns)
		if err != nil {
			return graph.Failed(fmt.Sprintf("encode conversation history: %v", err), true)
		}

		key := cache.ConversationKey(st.SessionID)
		o.services.Cache.Set(key, string(payload), conversationTTL)
		return graph.Succeeded(map[string]interface{}{"cached": true, "key": key})
	})
}

// chatErrorHandlerNode substitutes a safe fallback response so a recoverable
// failure still yields an answer. The run ends through the normal end node.
func (o *Orchestrator) chatErrorHandlerNode() graph.Node {
	return graph.NewNode("error_handler", graph.KindErrorHandler, func(_ context.Context, st *graph.State) graph.NodeResult {
		recovered := ""
		if n := len(st.Errors); n > 0 {
			recovered = st.Errors[n-1].Message
		}
		if st.FinalResponse == "" {
			st.FinalResponse = safeFallbackResponse
		}
		o.logger.Warn("chat run recovered with fallback response",
			"correlation_id", st.CorrelationID, "cause", recovered)
		return graph.Succeeded(map[string]interface{}{
			"fallback":       true,
			"recovered_from": recovered,
		})
	})
}

// classifyModelError maps a model-manager error onto the operation error
// taxonomy. Missing models are unavailable; 5xx and transport-level failures
// are backend trouble; everything else that came back typed is treated as
// unavailable rather than internal.
func classifyModelError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadline
	case ollama.IsNotFound(err):
		return CodeModelUnavailable
	}
	var ae *ollama.APIError
	if errors.As(err, &ae) {
		if ae.StatusCode == 0 || ae.StatusCode >= 500 {
			return CodeBackendTransport
		}
		return CodeModelUnavailable
	}
	return CodeBackendTransport
}
