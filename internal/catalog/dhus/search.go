package dhus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"s2batch/internal/catalog"
	s2errors "s2batch/internal/errors"
	"s2batch/internal/httpclient"

	"github.com/dustin/go-humanize"
)

const (
	platformName = "Sentinel-2"
	productType  = "S2MSI1C"
)

type cachedPage struct {
	page     searchPage
	storedAt time.Time
}

type searchPage struct {
	Total    int
	Products []catalog.Product
}

// BuildQuery renders the OpenSearch q parameter for f.
func BuildQuery(f catalog.Filter) string {
	parts := []string{
		"platformname:" + platformName,
		"producttype:" + productType,
		fmt.Sprintf("beginposition:[%s TO %s]", queryDate(f.Begin), queryDate(f.End)),
		fmt.Sprintf("cloudcoverpercentage:[%s TO %s]", formatNumber(f.CloudMin), formatNumber(f.CloudMax)),
	}
	if f.Footprint != "" {
		parts = append(parts, fmt.Sprintf(`footprint:"Contains(%s)"`, f.Footprint))
	}
	if f.Tile != "" {
		parts = append(parts, "tileid:"+f.Tile)
	}
	if f.RelativeOrbit > 0 {
		parts = append(parts, "relativeorbitnumber:"+strconv.Itoa(f.RelativeOrbit))
	}
	return strings.Join(parts, " AND ")
}

func queryDate(d catalog.Date) string {
	if d.Now || d.Time.IsZero() {
		return "NOW"
	}
	return d.Time.UTC().Format("2006-01-02T15:04:05.000Z")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Query runs f against the OpenSearch endpoint and follows pagination.
func (c *Client) Query(ctx context.Context, f catalog.Filter) ([]catalog.Product, error) {
	q := BuildQuery(f)
	c.logger.Debug("query %s: %s", f.Locator(), q)

	var products []catalog.Product
	for start := 0; ; start += c.cfg.PageSize {
		page, err := c.searchPage(ctx, q, start)
		if err != nil {
			return nil, err
		}
		products = append(products, page.Products...)
		if len(page.Products) == 0 || start+c.cfg.PageSize >= page.Total {
			break
		}
	}
	c.logger.Info("query %s returned %d products", f.Locator(), len(products))
	return products, nil
}

func (c *Client) searchPage(ctx context.Context, q string, start int) (searchPage, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("rows", strconv.Itoa(c.cfg.PageSize))
	params.Set("start", strconv.Itoa(start))
	params.Set("orderby", "beginposition asc")
	rawURL := c.baseURL + "search?" + params.Encode()

	if c.pages != nil {
		if entry, ok := c.pages.Get(rawURL); ok && c.now().Sub(entry.storedAt) < c.cfg.CacheTTL {
			c.catMetrics.RecordPageCacheHit()
			return entry.page, nil
		}
		c.catMetrics.RecordPageCacheMiss()
	}

	page, err := s2errors.RetryWithResultAndLog(ctx, c.cfg.Retry, func(ctx context.Context) (searchPage, error) {
		callCtx, cancel := c.withCallTimeout(ctx)
		defer cancel()

		resp, err := c.get(callCtx, "query", rawURL)
		if err != nil {
			return searchPage{}, err
		}
		defer resp.Body.Close()

		body, err := httpclient.ReadBody(resp.Body, "search page", maxSearchPageBytes)
		if httpclient.IsBodyTooLarge(err) {
			return searchPage{}, &s2errors.PermanentError{Err: fmt.Errorf("dhus: %w", err), StatusCode: resp.StatusCode}
		}
		if err != nil {
			return searchPage{}, s2errors.NewTransientError(err, fmt.Sprintf("dhus: read search page: %v", err))
		}
		return decodeSearchPage(body)
	}, c.logger)
	if err != nil {
		return searchPage{}, err
	}

	if c.pages != nil {
		c.pages.Add(rawURL, cachedPage{page: page, storedAt: c.now()})
	}
	return page, nil
}

// oneOrMany decodes a JSON member the hub emits as an object when there is a
// single element and as an array otherwise.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*o = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

type namedValue struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type searchEntry struct {
	ID     string                `json:"id"`
	Title  string                `json:"title"`
	Date   oneOrMany[namedValue] `json:"date"`
	Double oneOrMany[namedValue] `json:"double"`
	Int    oneOrMany[namedValue] `json:"int"`
	Str    oneOrMany[namedValue] `json:"str"`
}

type searchResponse struct {
	Feed struct {
		TotalResults json.RawMessage        `json:"opensearch:totalResults"`
		Entry        oneOrMany[searchEntry] `json:"entry"`
	} `json:"feed"`
}

func decodeSearchPage(body []byte) (searchPage, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return searchPage{}, fmt.Errorf("dhus: decode search response: %w", err)
	}
	total, err := parseTotal(resp.Feed.TotalResults)
	if err != nil {
		return searchPage{}, err
	}
	page := searchPage{Total: total}
	for _, entry := range resp.Feed.Entry {
		p, err := entry.product()
		if err != nil {
			return searchPage{}, err
		}
		page.Products = append(page.Products, p)
	}
	return page, nil
}

func parseTotal(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("dhus: totalResults %q: %w", s, err)
	}
	return n, nil
}

func lookup(values []namedValue, name string) (string, bool) {
	for _, v := range values {
		if v.Name == name {
			return v.Content, true
		}
	}
	return "", false
}

func (e searchEntry) product() (catalog.Product, error) {
	p := catalog.Product{ID: e.ID, Title: e.Title}
	if p.ID == "" {
		return p, fmt.Errorf("dhus: search entry %q has no id", e.Title)
	}

	if raw, ok := lookup(e.Date, "beginposition"); ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return p, fmt.Errorf("dhus: %s beginposition %q: %w", p.ID, raw, err)
		}
		p.Acquired = t.UTC()
	} else {
		return p, fmt.Errorf("dhus: %s has no beginposition", p.ID)
	}

	if raw, ok := lookup(e.Double, "cloudcoverpercentage"); ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, fmt.Errorf("dhus: %s cloudcoverpercentage %q: %w", p.ID, raw, err)
		}
		p.CloudCover = v
	}

	if raw, ok := lookup(e.Int, "relativeorbitnumber"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return p, fmt.Errorf("dhus: %s relativeorbitnumber %q: %w", p.ID, raw, err)
		}
		p.RelativeOrbit = v
	}

	p.Filename, _ = lookup(e.Str, "filename")
	p.Tile, _ = lookup(e.Str, "tileid")
	if raw, ok := lookup(e.Str, "size"); ok {
		size, err := humanize.ParseBytes(raw)
		if err != nil {
			return p, fmt.Errorf("dhus: %s size %q: %w", p.ID, raw, err)
		}
		p.SizeBytes = size
	}
	if p.Title == "" {
		p.Title = strings.TrimSuffix(p.Filename, ".SAFE")
	}
	if p.Filename == "" {
		p.Filename = p.Title + ".SAFE"
	}
	return p, nil
}
