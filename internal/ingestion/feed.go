// Package ingestion loads the poem dataset into a catalog. The dataset is a
// JSON feed {"source": ..., "list": [{field: value, ...}, ...]} read from a
// URL or a local file.
package ingestion

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/resilience"
)

// maxFeedBytes bounds how much of a feed response is read.
const maxFeedBytes = 256 << 20

// Feed is the decoded dataset.
type Feed struct {
	Source string           `json:"source"`
	List   []map[string]any `json:"list"`
}

// Fetcher reads feeds over HTTP or from disk.
type Fetcher struct {
	client *http.Client
	retry  resilience.RetryConfig
}

func NewFetcher(client *http.Client, retry resilience.RetryConfig) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, retry: retry}
}

// IsRemote reports whether location is fetched over HTTP.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Fetch reads and decodes the feed at location. HTTP fetches are retried on
// transport errors and 5xx responses.
func (f *Fetcher) Fetch(ctx context.Context, location string) (*Feed, error) {
	var data []byte
	if IsRemote(location) {
		err := resilience.Retry(ctx, "fetch-feed", f.retry, func() error {
			var err error
			data, err = f.get(ctx, location)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		data, err = os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("reading feed %s: %w", location, err)
		}
	}
	return Decode(data)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("fetching feed: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, resilience.Permanent(fmt.Errorf("fetching feed: status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}
	return data, nil
}

// Decode parses a feed, keeping numbers in their original text form.
func Decode(data []byte) (*Feed, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var feed Feed
	if err := dec.Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: decoding feed: %v", apperrors.ErrInvalidInput, err)
	}
	return &feed, nil
}

// RecordID derives the identifier of the i-th record: the hex MD5 of its
// decimal position.
func RecordID(i int) string {
	sum := md5.Sum([]byte(strconv.Itoa(i)))
	return hex.EncodeToString(sum[:])
}

// Documents converts feed records to documents with positional IDs. Values
// are stringified; a JSON null becomes an empty value so the field still
// reaches schema validation.
func (f *Feed) Documents() []model.Document {
	docs := make([]model.Document, 0, len(f.List))
	for i, rec := range f.List {
		fields := make(map[string]string, len(rec))
		for k, v := range rec {
			fields[k] = stringify(v)
		}
		docs = append(docs, model.Document{ID: RecordID(i), Fields: fields})
	}
	return docs
}

// stringify renders a decoded JSON value as a field string. Arrays of scalars
// join with commas so they read as tag lists.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
