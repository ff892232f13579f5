package core

import "time"

// Status is an article's position in the staged state machine. It advances
// monotonically along pending -> title_filtered -> content_fetched ->
// llm_processed -> personalized -> ranked, with the terminal sinks
// discarded, duplicate and low_priority reachable from any live state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusTitleFiltered  Status = "title_filtered"
	StatusFetchFailed    Status = "fetch_failed"
	StatusContentFetched Status = "content_fetched"
	StatusLLMProcessed   Status = "llm_processed"
	StatusPersonalized   Status = "personalized"
	StatusRanked         Status = "ranked"
	StatusDiscarded      Status = "discarded"
	StatusDuplicate      Status = "duplicate"
	StatusLowPriority    Status = "low_priority"
)

// Terminal reports whether a status is a sink that an article never leaves.
func (s Status) Terminal() bool {
	return s == StatusDiscarded || s == StatusDuplicate
}

// Profile is the user preference knob that reweights personalization.
type Profile string

const (
	ProfileFocus    Profile = "focus"
	ProfileBalanced Profile = "balanced"
	ProfileBroad    Profile = "broad"
)

// Valid reports whether p is one of the three known profiles.
func (p Profile) Valid() bool {
	return p == ProfileFocus || p == ProfileBalanced || p == ProfileBroad
}

// Event types assigned by title triage and content classification.
const (
	EventEarnings      = "earnings"
	EventMA            = "m&a"
	EventGuidance      = "guidance"
	EventMacro         = "macro"
	EventRegulation    = "regulation"
	EventProductTech   = "product_tech"
	EventIndustryTrend = "industry_trend"
	EventOther         = "other"
)

// KnownEventTypes is the closed set accepted from the LLM; anything else
// is defaulted to "other".
var KnownEventTypes = map[string]bool{
	EventEarnings:      true,
	EventMA:            true,
	EventGuidance:      true,
	EventMacro:         true,
	EventRegulation:    true,
	EventProductTech:   true,
	EventIndustryTrend: true,
	EventOther:         true,
}

// Article is a single news story, uniquely keyed by its origin URL. The
// row is the state machine: each pipeline stage attaches derived fields
// and advances Status.
type Article struct {
	ID int64 `json:"id"` // Store rowid; weak back-reference target for duplicates

	// Identity
	URL              string `json:"url"`               // Origin URL, primary key
	NormalizedURL    string `json:"normalized_url"`    // Result of urlutil.Normalize
	CanonicalURL     string `json:"canonical_url"`     // href of <link rel="canonical">, if any
	NormalizedDomain string `json:"normalized_domain"` // Lowercased host without www.
	TitleHashBucket  string `json:"title_hash_bucket"` // First 3 lowercased title words joined by _
	DuplicateOf      int64  `json:"is_duplicate_of_article_id"` // 0 when not a duplicate

	// Origin
	SourceName  string    `json:"source_name"`
	SourceID    string    `json:"source_id"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
	FeedSource  string    `json:"feed_source"` // Upstream provider tag
	SearchedBy  string    `json:"searched_by"` // Ticker/topic that produced this article; comma-joined on collisions

	// Original payload
	Title       string `json:"title"`
	Description string `json:"description"`
	URLToImage  string `json:"url_to_image"`
	Content     string `json:"content"` // Provider snippet, not the fetched body

	// Stage 1 - title triage
	TitleRelevance     *int     `json:"title_relevance"` // 0..3; nil until triaged
	TitleEventType     string   `json:"title_event_type"`
	TitleReasonShort   string   `json:"title_reason_short"`
	TitleTickerMatches []string `json:"title_ticker_matches"`
	TitleSectorMatches []string `json:"title_sector_matches"`
	ShouldFetchFull    bool     `json:"should_fetch_full"`
	NoHoldingMention   bool     `json:"no_holding_mention"` // Flag only, never a discard reason

	// Stage 1.5 - cost gate
	LikelyImpact *int `json:"likely_impact"` // 0..100; nil until gated

	// Stage 2 - content fetch
	FinalURL           string    `json:"final_url"` // Resolved fetch URL (e.g. decoded Google RSS redirect)
	CleanText          string    `json:"clean_text"`
	ContentLength      int       `json:"content_length"`
	ContentFingerprint string    `json:"content_fingerprint"` // 16-hex-char 64-bit SimHash
	ContentFetchedAt   time.Time `json:"content_fetched_at"`
	FetchAttempts      int       `json:"fetch_attempts"` // Hard cap 2

	// Stage 3 - global classification (user-agnostic)
	EventType        string   `json:"event_type"`
	ImpactScore      *float64 `json:"impact_score"` // 0..100; nil until classified
	Sentiment        float64  `json:"sentiment"`    // -1..1
	SentimentLabel   string   `json:"sentiment_label"`
	RiskScore        float64  `json:"risk_score"`
	OpportunityScore float64  `json:"opportunity_score"`
	VolatilityScore  float64  `json:"volatility_score"`
	MatchedTickers   []string `json:"matched_tickers"`
	MatchedSectors   []string `json:"matched_sectors"`

	// Stage 4 - per-profile scores
	HoldingRelevanceScore float64  `json:"holding_relevance_score"`
	ProfileAdjustedScore  *float64 `json:"profile_adjusted_score"` // Valid only with matching ProfileTypeCached
	ProfileTypeCached     string   `json:"profile_type_cached"`

	// Stage 5 - ranking & clustering
	ClusterID          string    `json:"cluster_id"`
	IsPrimaryInCluster bool      `json:"is_primary_in_cluster"`
	FinalRankScore     float64   `json:"final_rank_score"`
	ImportanceScore    float64   `json:"importance_score"`
	ShownToUser        bool      `json:"shown_to_user"`
	ShownTimestamp     time.Time `json:"shown_timestamp"`

	// Interpretation fields (guardrail-owned vocabulary)
	Verdict         string   `json:"verdict"`  // ignore | aware | act
	Why             []string `json:"why_json"` // Ordered, at most 3 entries
	Action          string   `json:"action"`
	Horizon         string   `json:"horizon"`
	OpportunityType string   `json:"opportunity_type"` // none | behavioral | awareness | allocation
	OpportunityNote string   `json:"opportunity_note"`
	Confidence      float64  `json:"confidence"` // 0..100

	// Lifecycle
	Status                Status    `json:"status"`
	LastError             string    `json:"last_error"` // Trimmed to 500 chars
	LLMAttempts           int       `json:"llm_attempts"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	ProcessingStartedAt   time.Time `json:"processing_started_at"`
	ProcessingCompletedAt time.Time `json:"processing_completed_at"`
}

// Triaged reports whether Stage 1 has already run for this article.
func (a *Article) Triaged() bool { return a.TitleRelevance != nil }

// Classified reports whether Stage 3 has already run for this article.
func (a *Article) Classified() bool { return a.ImpactScore != nil }

// Holding is one of the user's tracked ticker symbols.
type Holding struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"` // Single default user model: always 1
	Ticker string `json:"ticker"`  // Normalized: upper-cased, .A/.B -> -A/-B, no slashes or spaces
	Label  string `json:"label"`   // Issuer name, e.g. "Apple Inc"
	Notes  string `json:"notes"`
}

// Signal is the interpretation bundle attached to a cluster primary at
// ranking time. It always passes through guardrail.Sanitize before being
// persisted.
type Signal struct {
	Title           string   `json:"title"`
	Verdict         string   `json:"verdict"`
	Why             []string `json:"why"`
	Action          string   `json:"action"`
	Horizon         string   `json:"horizon"`
	OpportunityType string   `json:"opportunity_type"`
	OpportunityNote string   `json:"opportunity_note"`
	Confidence      float64  `json:"confidence"`
	ImportanceScore float64  `json:"importance_score"`
}

// NormalizeTicker canonicalizes a ticker symbol for comparison: upper-case,
// trim, class suffixes .A/.B become -A/-B, slashes and spaces stripped.
func NormalizeTicker(t string) string {
	out := make([]rune, 0, len(t))
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		case r == '/' || r == ' ' || r == '\t':
			// dropped
		default:
			out = append(out, r)
		}
	}
	s := string(out)
	// BRK.A style class shares -> BRK-A
	if n := len(s); n > 2 && s[n-2] == '.' {
		s = s[:n-2] + "-" + s[n-1:]
	}
	return s
}
