// Package store is the persistent article state store. Each article row
// acts as the pipeline's state machine; every write is a partial update of
// derived fields plus updated_at.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"marketbrief/internal/core"
)

// DefaultUserID is the single-user model's user id.
const DefaultUserID = 1

// maxLastErrorLen bounds persisted error messages.
const maxLastErrorLen = 500

// timeFormat is the single timestamp representation used by every column.
// The dedup candidate scan formats its cutoff the same way and compares
// strings, so the format must sort lexicographically in time order;
// second precision keeps the strings fixed-length.
const timeFormat = time.RFC3339

// Store wraps the SQLite database holding articles and holdings.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the store under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "marketbrief.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	articlesTable := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		normalized_url TEXT,
		canonical_url TEXT,
		normalized_domain TEXT,
		title_hash_bucket TEXT,
		is_duplicate_of_article_id INTEGER,

		source_name TEXT,
		source_id TEXT,
		author TEXT,
		published_at TEXT,
		feed_source TEXT,
		searched_by TEXT,

		title TEXT,
		description TEXT,
		url_to_image TEXT,
		content TEXT,

		title_relevance INTEGER,
		title_event_type TEXT,
		title_reason_short TEXT,
		title_ticker_matches TEXT,
		title_sector_matches TEXT,
		should_fetch_full INTEGER DEFAULT 0,
		no_holding_mention INTEGER DEFAULT 0,

		likely_impact INTEGER,

		final_url TEXT,
		clean_text TEXT,
		content_length INTEGER DEFAULT 0,
		content_fingerprint TEXT,
		content_fetched_at TEXT,
		fetch_attempts INTEGER DEFAULT 0,

		event_type TEXT,
		impact_score REAL,
		sentiment REAL DEFAULT 0,
		sentiment_label TEXT,
		risk_score REAL DEFAULT 0,
		opportunity_score REAL DEFAULT 0,
		volatility_score REAL DEFAULT 0,
		matched_tickers TEXT,
		matched_sectors TEXT,

		holding_relevance_score REAL DEFAULT 0,
		profile_adjusted_score REAL,
		profile_type_cached TEXT,

		cluster_id TEXT,
		is_primary_in_cluster INTEGER DEFAULT 0,
		final_rank_score REAL DEFAULT 0,
		importance_score REAL DEFAULT 0,
		shown_to_user INTEGER DEFAULT 0,
		shown_timestamp TEXT,

		verdict TEXT,
		why_json TEXT,
		action TEXT,
		horizon TEXT,
		opportunity_type TEXT,
		opportunity_note TEXT,
		confidence REAL DEFAULT 0,

		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		llm_attempts INTEGER DEFAULT 0,
		created_at TEXT,
		updated_at TEXT,
		processing_started_at TEXT,
		processing_completed_at TEXT
	);`

	holdingsTable := `
	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL DEFAULT 1,
		ticker TEXT NOT NULL,
		label TEXT,
		notes TEXT,
		UNIQUE(user_id, ticker)
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_articles_status ON articles(status);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_canonical ON articles(canonical_url);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_domain ON articles(normalized_domain, published_at);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_title_bucket ON articles(title_hash_bucket);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_duplicate_of ON articles(is_duplicate_of_article_id);`,
	}

	stmts := append([]string{articlesTable, holdingsTable}, indexes...)
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// articleColumns is the authoritative scan order for article rows.
const articleColumns = `id, url, normalized_url, canonical_url, normalized_domain, title_hash_bucket,
	is_duplicate_of_article_id, source_name, source_id, author, published_at, feed_source, searched_by,
	title, description, url_to_image, content,
	title_relevance, title_event_type, title_reason_short, title_ticker_matches, title_sector_matches,
	should_fetch_full, no_holding_mention, likely_impact,
	final_url, clean_text, content_length, content_fingerprint, content_fetched_at, fetch_attempts,
	event_type, impact_score, sentiment, sentiment_label, risk_score, opportunity_score, volatility_score,
	matched_tickers, matched_sectors,
	holding_relevance_score, profile_adjusted_score, profile_type_cached,
	cluster_id, is_primary_in_cluster, final_rank_score, importance_score, shown_to_user, shown_timestamp,
	verdict, why_json, action, horizon, opportunity_type, opportunity_note, confidence,
	status, last_error, llm_attempts, created_at, updated_at, processing_started_at, processing_completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*core.Article, error) {
	var a core.Article
	var (
		duplicateOf                                  sql.NullInt64
		publishedAt, contentFetchedAt, shownAt       sql.NullString
		createdAt, updatedAt, startedAt, completedAt sql.NullString
		titleRelevance, likelyImpact                 sql.NullInt64
		impactScore, profileAdjusted                 sql.NullFloat64
		titleTickers, titleSectors                   sql.NullString
		matchedTickers, matchedSectors, whyJSON      sql.NullString
		status                                       string
	)

	var (
		normalizedURL, canonicalURL, normalizedDomain, titleBucket      sql.NullString
		sourceName, sourceID, author, feedSource, searchedBy            sql.NullString
		title, description, urlToImage, content                        sql.NullString
		titleEventType, titleReason                                    sql.NullString
		finalURL, cleanText, fingerprintCol                            sql.NullString
		eventType, sentimentLabel, profileCached, clusterID            sql.NullString
		verdict, action, horizon, opportunityType, opportunityNote     sql.NullString
		lastError                                                      sql.NullString
	)

	err := row.Scan(
		&a.ID, &a.URL, &normalizedURL, &canonicalURL, &normalizedDomain, &titleBucket,
		&duplicateOf, &sourceName, &sourceID, &author, &publishedAt, &feedSource, &searchedBy,
		&title, &description, &urlToImage, &content,
		&titleRelevance, &titleEventType, &titleReason, &titleTickers, &titleSectors,
		&a.ShouldFetchFull, &a.NoHoldingMention, &likelyImpact,
		&finalURL, &cleanText, &a.ContentLength, &fingerprintCol, &contentFetchedAt, &a.FetchAttempts,
		&eventType, &impactScore, &a.Sentiment, &sentimentLabel, &a.RiskScore, &a.OpportunityScore, &a.VolatilityScore,
		&matchedTickers, &matchedSectors,
		&a.HoldingRelevanceScore, &profileAdjusted, &profileCached,
		&clusterID, &a.IsPrimaryInCluster, &a.FinalRankScore, &a.ImportanceScore, &a.ShownToUser, &shownAt,
		&verdict, &whyJSON, &action, &horizon, &opportunityType, &opportunityNote, &a.Confidence,
		&status, &lastError, &a.LLMAttempts, &createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	a.NormalizedURL = normalizedURL.String
	a.CanonicalURL = canonicalURL.String
	a.NormalizedDomain = normalizedDomain.String
	a.TitleHashBucket = titleBucket.String
	a.DuplicateOf = duplicateOf.Int64
	a.SourceName = sourceName.String
	a.SourceID = sourceID.String
	a.Author = author.String
	a.FeedSource = feedSource.String
	a.SearchedBy = searchedBy.String
	a.Title = title.String
	a.Description = description.String
	a.URLToImage = urlToImage.String
	a.Content = content.String
	a.TitleEventType = titleEventType.String
	a.TitleReasonShort = titleReason.String
	a.FinalURL = finalURL.String
	a.CleanText = cleanText.String
	a.ContentFingerprint = fingerprintCol.String
	a.EventType = eventType.String
	a.SentimentLabel = sentimentLabel.String
	a.ProfileTypeCached = profileCached.String
	a.ClusterID = clusterID.String
	a.Verdict = verdict.String
	a.Action = action.String
	a.Horizon = horizon.String
	a.OpportunityType = opportunityType.String
	a.OpportunityNote = opportunityNote.String
	a.LastError = lastError.String
	a.Status = core.Status(status)

	if titleRelevance.Valid {
		v := int(titleRelevance.Int64)
		a.TitleRelevance = &v
	}
	if likelyImpact.Valid {
		v := int(likelyImpact.Int64)
		a.LikelyImpact = &v
	}
	if impactScore.Valid {
		v := impactScore.Float64
		a.ImpactScore = &v
	}
	if profileAdjusted.Valid {
		v := profileAdjusted.Float64
		a.ProfileAdjustedScore = &v
	}

	a.TitleTickerMatches = parseJSONList(titleTickers.String)
	a.TitleSectorMatches = parseJSONList(titleSectors.String)
	a.MatchedTickers = parseJSONList(matchedTickers.String)
	a.MatchedSectors = parseJSONList(matchedSectors.String)
	a.Why = parseJSONList(whyJSON.String)

	a.PublishedAt = parseTime(publishedAt.String)
	a.ContentFetchedAt = parseTime(contentFetchedAt.String)
	a.ShownTimestamp = parseTime(shownAt.String)
	a.CreatedAt = parseTime(createdAt.String)
	a.UpdatedAt = parseTime(updatedAt.String)
	a.ProcessingStartedAt = parseTime(startedAt.String)
	a.ProcessingCompletedAt = parseTime(completedAt.String)

	return &a, nil
}

// parseJSONList decodes a JSON string list, falling back to an empty list
// on any parse failure.
func parseJSONList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

// InsertArticle inserts a new pending article. A second insert for the
// same URL is a no-op; the return value reports whether a row was written.
func (s *Store) InsertArticle(a *core.Article) (bool, error) {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.Status == "" {
		a.Status = core.StatusPending
	}

	res, err := s.db.Exec(`
	INSERT INTO articles
		(url, normalized_url, normalized_domain, title_hash_bucket, source_name, source_id, author,
		 published_at, feed_source, searched_by, title, description, url_to_image, content,
		 status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO NOTHING`,
		a.URL, a.NormalizedURL, a.NormalizedDomain, a.TitleHashBucket, a.SourceName, a.SourceID, a.Author,
		formatTime(a.PublishedAt), a.FeedSource, a.SearchedBy, a.Title, a.Description, a.URLToImage, a.Content,
		string(a.Status), formatTime(a.CreatedAt), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert article: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AppendSearchedBy comma-joins an additional search term onto an existing
// row, used when several holdings surface the same URL.
func (s *Store) AppendSearchedBy(url, term string) error {
	existing, err := s.GetByURL(url)
	if err != nil {
		return err
	}
	if existing == nil || term == "" {
		return nil
	}
	for _, part := range strings.Split(existing.SearchedBy, ",") {
		if strings.TrimSpace(part) == term {
			return nil
		}
	}
	joined := term
	if existing.SearchedBy != "" {
		joined = existing.SearchedBy + "," + term
	}
	return s.UpdateArticle(url, map[string]any{"searched_by": joined})
}

// GetByURL returns the current row for a URL, or nil when absent.
func (s *Store) GetByURL(url string) (*core.Article, error) {
	row := s.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE url = ?`, url)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}
	return a, nil
}

// GetByID returns the row with the given id, or nil when absent.
func (s *Store) GetByID(id int64) (*core.Article, error) {
	row := s.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}
	return a, nil
}

// GetByURLs returns the current rows for a set of URLs in one round trip,
// keyed by URL. Absent URLs are simply missing from the map.
func (s *Store) GetByURLs(urls []string) (map[string]*core.Article, error) {
	out := make(map[string]*core.Article, len(urls))
	if len(urls) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(urls)), ",")
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}

	rows, err := s.db.Query(`SELECT `+articleColumns+` FROM articles WHERE url IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles by urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		out[a.URL] = a
	}
	return out, rows.Err()
}

// allowedUpdateColumns guards partial updates against typo'd or hostile
// column names; the keys of an update map must all appear here.
var allowedUpdateColumns = map[string]bool{
	"normalized_url": true, "canonical_url": true, "normalized_domain": true, "title_hash_bucket": true,
	"is_duplicate_of_article_id": true, "searched_by": true,
	"title_relevance": true, "title_event_type": true, "title_reason_short": true,
	"title_ticker_matches": true, "title_sector_matches": true, "should_fetch_full": true,
	"no_holding_mention": true, "likely_impact": true,
	"final_url": true, "clean_text": true, "content_length": true, "content_fingerprint": true,
	"content_fetched_at": true, "fetch_attempts": true,
	"event_type": true, "impact_score": true, "sentiment": true, "sentiment_label": true,
	"risk_score": true, "opportunity_score": true, "volatility_score": true,
	"matched_tickers": true, "matched_sectors": true,
	"holding_relevance_score": true, "profile_adjusted_score": true, "profile_type_cached": true,
	"cluster_id": true, "is_primary_in_cluster": true, "final_rank_score": true, "importance_score": true,
	"shown_to_user": true, "shown_timestamp": true,
	"verdict": true, "why_json": true, "action": true, "horizon": true,
	"opportunity_type": true, "opportunity_note": true, "confidence": true,
	"status": true, "last_error": true, "llm_attempts": true,
	"processing_started_at": true, "processing_completed_at": true,
}

// Update is one partial write destined for a batch transaction.
type Update struct {
	URL    string
	Fields map[string]any
}

// UpdateArticle applies a partial update to one row and stamps updated_at.
func (s *Store) UpdateArticle(url string, fields map[string]any) error {
	query, args, err := buildUpdate(url, fields)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update article %s: %w", url, err)
	}
	return nil
}

// UpdateArticles applies a set of partial updates inside one transaction.
func (s *Store) UpdateArticles(updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, u := range updates {
		query, args, err := buildUpdate(u.URL, u.Fields)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update article %s: %w", u.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch update: %w", err)
	}
	return nil
}

func buildUpdate(url string, fields map[string]any) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty update for %s", url)
	}

	// Deterministic column order keeps the statements cacheable.
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !allowedUpdateColumns[col] {
			return "", nil, fmt.Errorf("refusing update of unknown column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sb strings.Builder
	sb.WriteString("UPDATE articles SET ")
	args := make([]any, 0, len(cols)+2)
	for _, col := range cols {
		sb.WriteString(col)
		sb.WriteString(" = ?, ")
		args = append(args, normalizeValue(col, fields[col]))
	}
	sb.WriteString("updated_at = ? WHERE url = ?")
	args = append(args, time.Now().UTC().Format(timeFormat), url)
	return sb.String(), args, nil
}

// normalizeValue converts rich Go values into their column encodings:
// string lists become JSON, times become RFC3339, statuses become text,
// and last_error is trimmed to its bound.
func normalizeValue(col string, v any) any {
	switch val := v.(type) {
	case []string:
		b, _ := json.Marshal(val)
		return string(b)
	case time.Time:
		return formatTime(val)
	case core.Status:
		return string(val)
	case string:
		if col == "last_error" && len(val) > maxLastErrorLen {
			return val[:maxLastErrorLen]
		}
		return val
	default:
		return v
	}
}

// IncrementFetchAttempts atomically bumps fetch_attempts and records the
// processing start, returning the new attempt count.
func (s *Store) IncrementFetchAttempts(url string) (int, error) {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.Exec(`
		UPDATE articles
		SET fetch_attempts = fetch_attempts + 1, processing_started_at = ?, updated_at = ?
		WHERE url = ?`, now, now, url)
	if err != nil {
		return 0, fmt.Errorf("failed to increment fetch attempts: %w", err)
	}
	var attempts int
	if err := s.db.QueryRow(`SELECT fetch_attempts FROM articles WHERE url = ?`, url).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read fetch attempts: %w", err)
	}
	return attempts, nil
}

// ListByStatus returns up to limit rows in a status, newest published
// first.
func (s *Store) ListByStatus(status core.Status, limit int) ([]*core.Article, error) {
	return s.queryArticles(`
		SELECT `+articleColumns+` FROM articles
		WHERE status = ?
		ORDER BY published_at DESC
		LIMIT ?`, string(status), limit)
}

// ListPersonalized returns personalized rows in the deterministic Stage 5
// input order: profile_adjusted_score DESC, impact_score DESC,
// published_at DESC, ties broken by URL.
func (s *Store) ListPersonalized(limit int) ([]*core.Article, error) {
	return s.queryArticles(`
		SELECT `+articleColumns+` FROM articles
		WHERE status = ?
		ORDER BY profile_adjusted_score DESC, impact_score DESC, published_at DESC, url ASC
		LIMIT ?`, string(core.StatusPersonalized), limit)
}

// RankCandidates returns personalized rows not yet ranked (NULL or zero
// final_rank_score), best score first.
func (s *Store) RankCandidates(limit int) ([]*core.Article, error) {
	return s.queryArticles(`
		SELECT `+articleColumns+` FROM articles
		WHERE status = ? AND (final_rank_score IS NULL OR final_rank_score = 0)
		ORDER BY profile_adjusted_score DESC, impact_score DESC, published_at DESC, url ASC
		LIMIT ?`, string(core.StatusPersonalized), limit)
}

// NeedsProcessing selects rows matching the admin "needs processing"
// predicate: anything not terminal that is missing a downstream output.
func (s *Store) NeedsProcessing(limit int) ([]*core.Article, error) {
	return s.queryArticles(`
		SELECT `+articleColumns+` FROM articles
		WHERE status != 'discarded'
		  AND (
			status IS NULL OR status = 'pending'
			OR status = 'title_filtered'
			OR (status = 'content_fetched' AND impact_score IS NULL)
			OR (status = 'llm_processed' AND profile_adjusted_score IS NULL)
		  )
		ORDER BY published_at DESC
		LIMIT ?`, limit)
}

// DedupCandidates runs the indexed candidate scan for one article: same
// canonical URL, or same domain within the window, or same title bucket;
// only rows that have reached content_fetched or later are comparable.
func (s *Store) DedupCandidates(a *core.Article, window time.Duration, limit int) ([]*core.Article, error) {
	cutoff := time.Now().UTC().Add(-window).Format(timeFormat)

	canonical := a.CanonicalURL
	if canonical == "" {
		// Matches nothing; keeps the OR branch inert without a dynamic query.
		canonical = "\x00none"
	}

	return s.queryArticles(`
		SELECT `+articleColumns+` FROM articles
		WHERE url != ?
		  AND status IN ('content_fetched', 'llm_processed', 'personalized', 'ranked')
		  AND (
			canonical_url = ?
			OR (normalized_domain = ? AND published_at >= ?)
			OR title_hash_bucket = ?
		  )
		ORDER BY id ASC
		LIMIT ?`,
		a.URL, canonical, a.NormalizedDomain, cutoff, a.TitleHashBucket, limit)
}

// FeedOptions filters the feed projection.
type FeedOptions struct {
	From     time.Time
	To       time.Time
	Sources  []string
	Limit    int
	MinScore float64
}

// FeedQuery returns ranked and personalized rows for the feed, best rank
// first. Holdings prioritize upstream; an empty holdings set still
// returns results, so holdings are not part of this predicate.
func (s *Store) FeedQuery(opts FeedOptions) ([]*core.Article, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + articleColumns + ` FROM articles WHERE status IN ('ranked', 'personalized')`)
	args := []any{}

	if !opts.From.IsZero() {
		sb.WriteString(` AND published_at >= ?`)
		args = append(args, formatTime(opts.From))
	}
	if !opts.To.IsZero() {
		sb.WriteString(` AND published_at <= ?`)
		args = append(args, formatTime(opts.To))
	}
	if len(opts.Sources) > 0 {
		sb.WriteString(` AND source_name IN (` + strings.TrimSuffix(strings.Repeat("?,", len(opts.Sources)), ",") + `)`)
		for _, src := range opts.Sources {
			args = append(args, src)
		}
	}
	if opts.MinScore > 0 {
		sb.WriteString(` AND final_rank_score >= ?`)
		args = append(args, opts.MinScore)
	}

	sb.WriteString(` ORDER BY final_rank_score DESC, published_at DESC`)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	sb.WriteString(` LIMIT ?`)
	args = append(args, limit)

	return s.queryArticles(sb.String(), args...)
}

// DuplicatesOf returns the duplicate rows pointing at an article id.
func (s *Store) DuplicatesOf(id int64) ([]*core.Article, error) {
	return s.queryArticles(`
		SELECT `+articleColumns+` FROM articles
		WHERE is_duplicate_of_article_id = ?
		ORDER BY id ASC LIMIT 100`, id)
}

// StatusCounts returns the number of rows per status.
func (s *Store) StatusCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM articles GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ClearAll removes every article. Holdings are kept. Admin operation.
func (s *Store) ClearAll() error {
	if _, err := s.db.Exec("DELETE FROM articles"); err != nil {
		return fmt.Errorf("failed to clear articles table: %w", err)
	}
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

func (s *Store) queryArticles(query string, args ...any) ([]*core.Article, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var out []*core.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddHolding inserts or updates one of the user's tracked tickers. The
// ticker is normalized before writing.
func (s *Store) AddHolding(h core.Holding) error {
	if h.UserID == 0 {
		h.UserID = DefaultUserID
	}
	ticker := core.NormalizeTicker(h.Ticker)
	if ticker == "" {
		return fmt.Errorf("empty ticker")
	}
	_, err := s.db.Exec(`
		INSERT INTO holdings (user_id, ticker, label, notes) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, ticker) DO UPDATE SET label = excluded.label, notes = excluded.notes`,
		h.UserID, ticker, h.Label, h.Notes)
	if err != nil {
		return fmt.Errorf("failed to add holding %s: %w", ticker, err)
	}
	return nil
}

// ListHoldings returns the user's holdings ordered by ticker.
func (s *Store) ListHoldings(userID int64) ([]core.Holding, error) {
	if userID == 0 {
		userID = DefaultUserID
	}
	rows, err := s.db.Query(`SELECT id, user_id, ticker, label, notes FROM holdings WHERE user_id = ? ORDER BY ticker`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var out []core.Holding
	for rows.Next() {
		var h core.Holding
		var label, notes sql.NullString
		if err := rows.Scan(&h.ID, &h.UserID, &h.Ticker, &label, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		h.Label = label.String
		h.Notes = notes.String
		out = append(out, h)
	}
	return out, rows.Err()
}

// RemoveHolding deletes a holding by ticker.
func (s *Store) RemoveHolding(userID int64, ticker string) error {
	if userID == 0 {
		userID = DefaultUserID
	}
	_, err := s.db.Exec(`DELETE FROM holdings WHERE user_id = ? AND ticker = ?`, userID, core.NormalizeTicker(ticker))
	if err != nil {
		return fmt.Errorf("failed to remove holding %s: %w", ticker, err)
	}
	return nil
}
