// Package proto defines the message types exchanged over the PoemSearch
// RPC service (see pkg/grpc and internal/rpc).
//
// Every message uses JSON struct tags for the newline-delimited JSON wire
// format.
package proto

// Service and method names.
const (
	Service          = "PoemSearch"
	MethodSearchText = Service + ".SearchText"
	MethodSearchTag  = Service + ".SearchTag"
	MethodFuzzy      = Service + ".Fuzzy"
	MethodGroupBy    = Service + ".GroupBy"
	MethodGet        = Service + ".Get"
	MethodStats      = Service + ".Stats"
)

// ---------- Common ----------

// Document is a poem as returned by the service.
type Document struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Page selects the sort order and window of a result set. A zero Limit
// requests the server's default page size.
type Page struct {
	SortBy string `json:"sort_by,omitempty"`
	Desc   bool   `json:"desc,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ---------- Search ----------

// TextRequest is the input to SearchText. Pattern is a literal substring,
// a /regex/ or a %fuzzy% term.
type TextRequest struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
	Page    Page   `json:"page"`
}

// TagRequest is the input to SearchTag. Value may join several tags with |.
type TagRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Page  Page   `json:"page"`
}

// FuzzyRequest is the input to Fuzzy.
type FuzzyRequest struct {
	Field    string `json:"field"`
	Text     string `json:"text"`
	Distance int    `json:"distance"`
	Page     Page   `json:"page"`
}

// SearchResponse is the output of every search method.
type SearchResponse struct {
	Query     string     `json:"query"`
	Total     int        `json:"total"`
	Documents []Document `json:"documents"`
	CacheHit  bool       `json:"cache_hit"`
	LatencyMs int64      `json:"latency_ms"`
}

// ---------- Aggregation ----------

// GroupByRequest is the input to GroupBy.
type GroupByRequest struct {
	Field string `json:"field"`
}

// Group is one distinct value and its document count.
type Group struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// GroupByResponse is the output of GroupBy, ordered by count descending.
type GroupByResponse struct {
	Field  string  `json:"field"`
	Groups []Group `json:"groups"`
}

// ---------- Documents and stats ----------

// GetRequest is the input to Get.
type GetRequest struct {
	ID string `json:"id"`
}

// StatsRequest is the empty input to Stats.
type StatsRequest struct{}

// StatsResponse summarizes the catalog.
type StatsResponse struct {
	Index      string         `json:"index"`
	State      string         `json:"state"`
	Generation uint64         `json:"generation"`
	Stale      bool           `json:"stale"`
	Documents  int            `json:"documents"`
	Terms      map[string]int `json:"terms,omitempty"`
	Postings   int            `json:"postings"`
}
