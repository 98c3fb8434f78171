// Package octopus is a client for the Octopus Energy public API: product
// discovery, region lookup and half-hourly Agile unit rates. No
// authentication is required for any of these endpoints.
package octopus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/parkes-group/octopus/internal/pkg/config"
	"github.com/parkes-group/octopus/internal/pkg/model"
)

// maxPages bounds pagination loops in case the API ever returns a cyclic
// next link.
const maxPages = 100

type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.OctopusAPITimeoutSecs) * time.Second,
		},
		logger: zap.L(),
	}
}

// rateEntry is the wire shape of one unit-rate result. Timestamps stay as
// strings here so one malformed entry can be skipped without failing the
// whole page.
type rateEntry struct {
	ValueIncVat float64 `json:"value_inc_vat"`
	ValidFrom   string  `json:"valid_from"`
	ValidTo     string  `json:"valid_to"`
}

type ratesResponse struct {
	Count   int         `json:"count"`
	Next    *string     `json:"next"`
	Results []rateEntry `json:"results"`
}

type productEntry struct {
	Code      string `json:"code"`
	FullName  string `json:"full_name"`
	Direction string `json:"direction"`
}

type productsResponse struct {
	Next    *string        `json:"next"`
	Results []productEntry `json:"results"`
}

type gspEntry struct {
	GroupID string `json:"group_id"`
}

type gspResponse struct {
	Count   int        `json:"count"`
	Results []gspEntry `json:"results"`
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	c.logger.Info("octopus api call", zap.String("url", rawURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: unexpected status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode response: %w", rawURL, err)
	}
	return nil
}

// parseSlots converts wire entries to PriceSlots, skipping entries with
// malformed timestamps rather than failing the series.
func (c *Client) parseSlots(entries []rateEntry) model.PriceSlots {
	slots := make(model.PriceSlots, 0, len(entries))
	for _, e := range entries {
		from, err := time.Parse(time.RFC3339, e.ValidFrom)
		if err != nil {
			c.logger.Warn("skipping malformed price slot", zap.String("valid_from", e.ValidFrom), zap.Error(err))
			continue
		}
		to, err := time.Parse(time.RFC3339, e.ValidTo)
		if err != nil {
			c.logger.Warn("skipping malformed price slot", zap.String("valid_to", e.ValidTo), zap.Error(err))
			continue
		}
		slots = append(slots, model.PriceSlot{
			ValueIncVat: e.ValueIncVat,
			ValidFrom:   from.UTC(),
			ValidTo:     to.UTC(),
		})
	}
	return slots
}

// GetPrices fetches the current standard unit rates for a product and
// region. Octopus decides the window, typically today plus tomorrow once
// published; the order of the results is not guaranteed.
func (c *Client) GetPrices(ctx context.Context, productCode, regionCode string) (model.PriceSlots, error) {
	var page ratesResponse
	if err := c.getJSON(ctx, c.cfg.PricesURL(productCode, regionCode), &page); err != nil {
		return nil, err
	}
	c.logger.Info("fetched prices",
		zap.String("product", productCode),
		zap.String("region", regionCode),
		zap.Int("slots", len(page.Results)))
	return c.parseSlots(page.Results), nil
}

// GetPricesRange fetches unit rates for an explicit UTC window, following
// pagination links. Used by the year-to-date update job.
func (c *Client) GetPricesRange(ctx context.Context, productCode, regionCode string, from, to time.Time, pageSize int) (model.PriceSlots, error) {
	u, err := url.Parse(c.cfg.PricesURL(productCode, regionCode))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("period_from", from.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("period_to", to.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("page_size", fmt.Sprintf("%d", pageSize))
	u.RawQuery = q.Encode()

	var slots model.PriceSlots
	next := u.String()
	for page := 0; next != "" && page < maxPages; page++ {
		var resp ratesResponse
		if err := c.getJSON(ctx, next, &resp); err != nil {
			return nil, err
		}
		slots = append(slots, c.parseSlots(resp.Results)...)
		next = ""
		if resp.Next != nil {
			next = *resp.Next
		}
	}
	return slots, nil
}

// GetAgileProducts discovers active Agile products, following pagination and
// applying the configured direction filter (IMPORT, EXPORT or BOTH).
func (c *Client) GetAgileProducts(ctx context.Context) ([]model.Product, error) {
	var all []productEntry
	next := c.cfg.ProductsURL()
	for page := 0; next != "" && page < maxPages; page++ {
		var resp productsResponse
		if err := c.getJSON(ctx, next, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Results...)
		next = ""
		if resp.Next != nil {
			next = *resp.Next
		}
	}

	direction := strings.ToUpper(c.cfg.ProductDirectionFilter)
	agile := lo.FilterMap(all, func(p productEntry, _ int) (model.Product, bool) {
		if !strings.Contains(strings.ToUpper(p.Code), "AGILE") {
			return model.Product{}, false
		}
		if direction != "BOTH" && !strings.EqualFold(p.Direction, direction) {
			return model.Product{}, false
		}
		return model.Product{Code: p.Code, FullName: p.FullName}, true
	})

	c.logger.Info("discovered agile products", zap.Int("total", len(all)), zap.Int("agile", len(agile)))
	return agile, nil
}

// GetRegions fetches the GSP groups and joins them with the static region
// name map. Group ids arrive as "_A", "_B"; the underscore is stripped.
func (c *Client) GetRegions(ctx context.Context) ([]model.Region, error) {
	var resp gspResponse
	if err := c.getJSON(ctx, c.cfg.RegionsURL(), &resp); err != nil {
		return nil, err
	}

	regions := make([]model.Region, 0, len(resp.Results))
	for _, item := range resp.Results {
		code := strings.TrimPrefix(item.GroupID, "_")
		if code == "" {
			continue
		}
		name, ok := config.RegionNames[code]
		if !ok {
			name = "Region " + code
		}
		regions = append(regions, model.Region{Code: code, Name: name})
	}
	return regions, nil
}

// LookupRegionByPostcode resolves a UK postcode to candidate region codes.
// An empty result means the API knows no region for that postcode; more
// than one distinct code means the postcode straddles regions and the user
// must choose.
func (c *Client) LookupRegionByPostcode(ctx context.Context, postcode string) ([]string, error) {
	var resp gspResponse
	if err := c.getJSON(ctx, c.cfg.GSPLookupURL(postcode), &resp); err != nil {
		return nil, err
	}

	codes := lo.FilterMap(resp.Results, func(item gspEntry, _ int) (string, bool) {
		code := strings.TrimPrefix(item.GroupID, "_")
		return code, code != ""
	})
	codes = lo.Uniq(codes)

	c.logger.Info("postcode lookup",
		zap.String("postcode", postcode),
		zap.Strings("regions", codes))
	return codes, nil
}
