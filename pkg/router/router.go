// Package router implements the command router of spec.md §4.3: it
// translates a finalized human transcript into a routing decision with
// targets, an action, optional duration, and a confidence score,
// preserving short-term context between utterances.
//
// Grounded on MrWong99-glyphoxa/internal/transcript/phonetic, the pack's
// only fuzzy string-matching package, which wraps github.com/antzucaro/matchr
// for distance scoring — adopted here for the Levenshtein step (parsing
// order step 4). The teacher itself has no command router; address-keyword
// and intent regexes otherwise follow the teacher's preference for small,
// explicit state in plain structs (pkg/orchestrator/types.go's Config).
package router

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

// Action is the routing decision's effect class.
type Action string

const (
	ActionAddress         Action = "address"
	ActionThinking        Action = "thinking"
	ActionBroadcast       Action = "broadcast"
	ActionBargeInControl  Action = "barge_in_control"
	ActionDuckingControl  Action = "ducking_control"
)

// Decision is the result of routing one finalized transcript.
type Decision struct {
	Raw             string
	Normalized      string
	Targets         []speaker.Id
	Remainder       string
	Action          Action
	DurationMs      int
	HasDuration     bool
	Confidence      float64
	MatchedKeywords []string
	FuzzyMatched    bool
	ContextSnapshot CommandContext
}

// CommandContext is the rolling state carried between Route calls, per
// spec.md §3.
type CommandContext struct {
	LastAddressed []speaker.Id
	LastAction    Action
	UpdatedAt     time.Time
}

// KeywordMap associates a lower-cased alias with its target speaker set.
type KeywordMap map[string][]speaker.Id

// DefaultKeywords mirrors spec.md §4.3's example alias table.
func DefaultKeywords() KeywordMap {
	return KeywordMap{
		"claude":     {speaker.Host},
		"guest":      {speaker.Guest},
		"basil":      {speaker.Human},
		"both":       {speaker.Host, speaker.Guest},
		"everyone":   {speaker.Host, speaker.Guest},
		"all":        {speaker.Host, speaker.Guest},
		"showrunner": {speaker.Host},
		"autopilot":  {speaker.Host},
	}
}

var thinkingKeywords = []string{
	"thinking", "think", "pause", "wait", "hold", "moment", "beat",
	"countdown", "processing", "consider", "ponder", "reflect",
}

var (
	thinkingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)thinking\s+mode`),
		regexp.MustCompile(`(?i)take\s+a\s+(beat|moment|second)`),
		regexp.MustCompile(`(?i)need\s+to\s+think`),
		regexp.MustCompile(`(?i)give\s+(me|us|them)\s+(\d+)?\s*(seconds?|minutes?|time)`),
		regexp.MustCompile(`(?i)time\s+to\s+(think|process|consider)`),
		regexp.MustCompile(`(?i)let\s+(me|us|them)\s+(think|process|ponder)`),
		regexp.MustCompile(`(?i)pause\s+(for|to)`),
	}

	bargeInPatterns = []struct {
		re   *regexp.Regexp
		conf float64
	}{
		{regexp.MustCompile(`(?i)\b(stop|halt|interrupt|quiet|silence)\b`), 0.8},
		{regexp.MustCompile(`(?i)\b(hold\s+up|wait\s+a\s+minute)\b`), 0.75},
		{regexp.MustCompile(`(?i)\bmute\s+(everyone|all)\b`), 0.85},
	}

	duckingPatterns = []struct {
		re   *regexp.Regexp
		conf float64
	}{
		{regexp.MustCompile(`(?i)\b(lower|reduce|quieter|softer)\s+(volume|sound)\b`), 0.8},
		{regexp.MustCompile(`(?i)\bturn\s+down\b`), 0.75},
		{regexp.MustCompile(`(?i)\bvolume\s+down\b`), 0.8},
	}

	continuationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(and\s+)?(also|too|as\s+well)`),
		regexp.MustCompile(`(?i)^continue`),
		regexp.MustCompile(`(?i)^same\s+to\s+you`),
		regexp.MustCompile(`(?i)^you\s+too`),
		regexp.MustCompile(`(?i)\b(same|ditto)\b`),
	}

	explicitSecondsRe = regexp.MustCompile(`(?i)(\d+)\s*(seconds?|secs?|s\b)`)
	explicitMinutesRe = regexp.MustCompile(`(?i)(\d+)\s*(minutes?|mins?|m\b)`)
	quickPauseRe      = regexp.MustCompile(`(?i)quick|brief|short\s+(moment|pause|beat)`)
	longPauseRe       = regexp.MustCompile(`(?i)long\s+(moment|pause|beat)`)
)

const (
	directPrefixConfidence   = 0.9
	keywordPrefixConfidence  = 0.7
	inlineAddressConfidence  = 0.55
	continuationConfidence   = 0.65
	fuzzyMaxDistance         = 2
	fuzzySimilarityThreshold = 0.6
)

// Router parses transcripts into Decisions, carrying a rolling
// CommandContext between calls. Not safe for concurrent use; callers
// serialize access per spec.md §5 ("command routing... serialized").
type Router struct {
	keywords    KeywordMap
	keywordKeys []string // sorted, for deterministic map iteration
	ctx         CommandContext

	directPrefix  map[string]*regexp.Regexp
	keywordPrefix map[string]*regexp.Regexp
}

// New constructs a Router with the given keyword map (DefaultKeywords if
// nil).
func New(keywords KeywordMap) *Router {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	r := &Router{
		keywords:      keywords,
		keywordKeys:   make([]string, 0, len(keywords)),
		directPrefix:  make(map[string]*regexp.Regexp, len(keywords)),
		keywordPrefix: make(map[string]*regexp.Regexp, len(keywords)),
	}
	for kw := range keywords {
		q := regexp.QuoteMeta(kw)
		r.directPrefix[kw] = regexp.MustCompile(`(?i)^(hey\s+)?@?` + q + `[:\-,\s]+`)
		r.keywordPrefix[kw] = regexp.MustCompile(`(?i)^` + q + `[:\-,\s]+`)
		r.keywordKeys = append(r.keywordKeys, kw)
	}
	sort.Strings(r.keywordKeys)
	return r
}

// Route parses text, updates the rolling context on a non-empty target
// set, and returns the Decision. Returns nil for empty/whitespace input.
func (r *Router) Route(text string) *Decision {
	d := r.route(text, r.ctx)
	if d == nil {
		return nil
	}
	if len(d.Targets) > 0 {
		r.ctx = CommandContext{
			LastAddressed: d.Targets,
			LastAction:    d.Action,
			UpdatedAt:     time.Now(),
		}
	}
	return d
}

// Context returns the router's current rolling context.
func (r *Router) Context() CommandContext { return r.ctx }

// RouteWithContext is the pure routing function used for testing "for any
// text t and empty context" determinism (spec.md §8): identical (text,
// ctx, keywords) always yields an identical Decision. It compiles a fresh
// Router each call, so a caller looping over many utterances should
// instead construct one Router and call Route/Context.
func RouteWithContext(text string, keywords KeywordMap, ctx CommandContext) *Decision {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	return New(keywords).route(text, ctx)
}

// route is the shared pure core behind both Route and RouteWithContext.
func (r *Router) route(text string, ctx CommandContext) *Decision {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return nil
	}
	lower := strings.ToLower(normalized)

	if _, conf, ok := matchPreAction(lower, bargeInPatterns); ok {
		return &Decision{
			Raw: text, Normalized: normalized, Targets: speaker.Agents(),
			Remainder: normalized, Action: ActionBargeInControl,
			Confidence: conf, ContextSnapshot: ctx,
		}
	}
	if _, conf, ok := matchPreAction(lower, duckingPatterns); ok {
		return &Decision{
			Raw: text, Normalized: normalized, Targets: speaker.Agents(),
			Remainder: normalized, Action: ActionDuckingControl,
			Confidence: conf, ContextSnapshot: ctx,
		}
	}

	targets, remainder, confidence, matched, fuzzy := r.parseAddress(normalized, lower, ctx)

	action, duration, hasDuration := classifyAction(remainder, targets)
	if action == ActionThinking && len(targets) == 0 {
		targets = []speaker.Id{speaker.Host}
	}

	d := &Decision{
		Raw:             text,
		Normalized:      normalized,
		Targets:         targets,
		Remainder:       remainder,
		Action:          action,
		DurationMs:      duration,
		HasDuration:     hasDuration,
		Confidence:      confidence,
		MatchedKeywords: matched,
		FuzzyMatched:    fuzzy,
		ContextSnapshot: ctx,
	}
	return d
}

func matchPreAction(lower string, patterns []struct {
	re   *regexp.Regexp
	conf float64
}) (string, float64, bool) {
	for _, p := range patterns {
		if p.re.MatchString(lower) {
			return p.re.String(), p.conf, true
		}
	}
	return "", 0, false
}

// parseAddress runs the five-step address parsing order, first match wins.
func (r *Router) parseAddress(normalized, lower string, ctx CommandContext) (targets []speaker.Id, remainder string, confidence float64, matched []string, fuzzy bool) {
	// Step 1: direct prefix.
	for _, kw := range r.keywordKeys {
		if loc := r.directPrefix[kw].FindStringIndex(lower); loc != nil && loc[0] == 0 {
			return r.keywords[kw], strings.TrimSpace(normalized[loc[1]:]), directPrefixConfidence, []string{kw}, false
		}
	}
	// Step 2: keyword prefix with comma or space.
	for _, kw := range r.keywordKeys {
		if loc := r.keywordPrefix[kw].FindStringIndex(lower); loc != nil && loc[0] == 0 {
			return r.keywords[kw], strings.TrimSpace(normalized[loc[1]:]), keywordPrefixConfidence, []string{kw}, false
		}
	}
	// Step 3: inline address within the first 20 characters.
	head := lower
	if len(head) > 20 {
		head = head[:20]
	}
	tokens := regexp.MustCompile(`[\s,:\-]+`).Split(head, -1)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if tg, ok := r.keywords[tok]; ok {
			return tg, normalized, inlineAddressConfidence, []string{tok}, false
		}
	}
	// Step 4: fuzzy match on the first three whitespace tokens.
	words := strings.Fields(lower)
	if len(words) > 3 {
		words = words[:3]
	}
	bestSim := 0.0
	var bestTargets []speaker.Id
	var bestKw, bestWord string
	for _, w := range words {
		trimmed := strings.Trim(w, ",:-")
		for _, kw := range r.keywordKeys {
			dist, err := matchr.Levenshtein(trimmed, kw)
			if err != nil || dist > fuzzyMaxDistance {
				continue
			}
			sim := 1 - float64(dist)/float64(len(kw))
			if sim >= fuzzySimilarityThreshold && sim > bestSim {
				bestSim = sim
				bestTargets = r.keywords[kw]
				bestKw = kw
				bestWord = w
			}
		}
	}
	if bestTargets != nil {
		remainder := normalized
		if idx := strings.Index(lower, bestWord); idx >= 0 {
			remainder = strings.TrimSpace(normalized[:idx] + normalized[idx+len(bestWord):])
		}
		return bestTargets, remainder, 0.7 * bestSim, []string{bestKw}, true
	}
	// Step 5: contextual continuation.
	if len(ctx.LastAddressed) > 0 {
		for _, re := range continuationPatterns {
			if re.MatchString(lower) {
				return ctx.LastAddressed, normalized, continuationConfidence, nil, false
			}
		}
	}
	return nil, normalized, 0, nil, false
}

func classifyAction(remainder string, targets []speaker.Id) (Action, int, bool) {
	lower := strings.ToLower(remainder)
	isThinking := containsAny(lower, thinkingKeywords)
	if !isThinking {
		for _, re := range thinkingPatterns {
			if re.MatchString(lower) {
				isThinking = true
				break
			}
		}
	}
	if isThinking {
		ms, has := extractDuration(lower)
		return ActionThinking, ms, has
	}
	if len(targets) > 0 {
		return ActionAddress, 0, false
	}
	return ActionBroadcast, 0, false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// extractDuration implements spec.md §4.3's duration extraction, only
// called when action = thinking.
func extractDuration(lower string) (int, bool) {
	if m := explicitSecondsRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n * 1000, true
		}
	}
	if m := explicitMinutesRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n * 60 * 1000, true
		}
	}
	if quickPauseRe.MatchString(lower) {
		return 10000, true
	}
	if longPauseRe.MatchString(lower) {
		return 60000, true
	}
	return 30000, true
}
