// Package marketplace fetches candidate listings from the eBay Browse API.
package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"scoutline/internal/apperror"
	"scoutline/internal/breaker"
	"scoutline/internal/config"
	"scoutline/internal/domain"
	"scoutline/internal/logger"
	"scoutline/internal/metrics"
)

const oauthScope = "https://api.ebay.com/oauth/api_scope"

// tokenSkew renews the cached token this long before it expires.
const tokenSkew = time.Minute

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, token, query string) ([]domain.Listing, error)
}

// Client talks to eBay. It is safe for concurrent use.
type Client struct {
	cfg     config.Marketplace
	client  *resty.Client
	cb      *gobreaker.CircuitBreaker[*resty.Response]
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithLogger(l *logger.Logger) Option { return func(c *Client) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.client.SetTimeout(d) } }

func New(cfg config.Marketplace, opts ...Option) *Client {
	client := resty.New()
	client.SetTimeout(20 * time.Second)
	client.SetHeader("Accept", "application/json")
	c := &Client{cfg: cfg, client: client, log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	bcfg := breaker.DefaultConfig("ebay")
	bcfg.OnStateChange = func(name string, from, to gobreaker.State) {
		c.log.WithFields(logger.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state change")
	}
	c.cb = breaker.New[*resty.Response](bcfg)
	return c
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Token returns a cached client-credentials token, fetching a new one when the
// cache is empty or about to expire.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("marketplace client_id and client_secret are required"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	var body tokenResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials", "scope": oauthScope}).
		SetResult(&body).
		SetError(&body).
		Post(c.cfg.TokenURL)
	if err != nil {
		c.metrics.Upstream("token", "error")
		return "", apperror.New(apperror.CodeMarketplaceAuth, apperror.WithContext("oauth token request"), apperror.WithCause(err))
	}
	if resp.StatusCode() != http.StatusOK || body.AccessToken == "" {
		c.metrics.Upstream("token", "error")
		return "", apperror.New(apperror.CodeMarketplaceAuth,
			apperror.WithContext(fmt.Sprintf("eBay OAuth failed: %d %s", resp.StatusCode(), firstNonEmpty(body.ErrorDescription, body.Error, resp.String()))))
	}
	c.metrics.Upstream("token", "ok")

	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= tokenSkew {
		ttl = 2 * tokenSkew
	}
	c.token = body.AccessToken
	c.expires = c.now().Add(ttl - tokenSkew)
	return c.token, nil
}

type searchResponse struct {
	ItemSummaries []itemSummary `json:"itemSummaries"`
	Errors        []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type itemSummary struct {
	ItemID          string `json:"itemId"`
	Title           string `json:"title"`
	ItemWebURL      string `json:"itemWebUrl"`
	Price           amount `json:"price"`
	Condition       string `json:"condition"`
	ItemEndDate     string `json:"itemEndDate"`
	ShippingOptions []struct {
		ShippingCost amount `json:"shippingCost"`
	} `json:"shippingOptions"`
	ItemLocation struct {
		City       string `json:"city"`
		PostalCode string `json:"postalCode"`
		Country    string `json:"country"`
	} `json:"itemLocation"`
	Seller struct {
		Username           string `json:"username"`
		FeedbackPercentage string `json:"feedbackPercentage"`
		FeedbackScore      int    `json:"feedbackScore"`
	} `json:"seller"`
}

// SearchParams builds the Browse API query for a search term.
func (c *Client) SearchParams(query string) url.Values {
	terms := []string{strings.TrimSpace(query)}
	for _, ex := range c.cfg.Excludes {
		terms = append(terms, "-"+ex)
	}
	v := url.Values{}
	v.Set("q", strings.Join(terms, " "))
	if len(c.cfg.Conditions) > 0 {
		v.Add("filter", "conditionIds:{"+strings.Join(c.cfg.Conditions, "|")+"}")
	}
	if c.cfg.Country != "" {
		v.Add("filter", "itemLocationCountry:"+c.cfg.Country)
	}
	v.Add("filter", fmt.Sprintf("price:[%s..%s],priceCurrency:USD", formatPrice(c.cfg.MinPrice), formatPrice(c.cfg.MaxPrice)))
	v.Set("sort", "newlyListed")
	limit := c.cfg.Limit
	if limit <= 0 {
		limit = 50
	}
	v.Set("limit", strconv.Itoa(limit))
	return v
}

// Search runs one Browse API query and normalizes the results.
func (c *Client) Search(ctx context.Context, token, query string) ([]domain.Listing, error) {
	var body searchResponse
	resp, err := c.cb.Execute(func() (*resty.Response, error) {
		resp, err := c.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParamsFromValues(c.SearchParams(query)).
			SetResult(&body).
			SetError(&body).
			Get(c.cfg.SearchURL)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests {
			return resp, fmt.Errorf("eBay search failed: %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		c.metrics.Upstream("search", "error")
		if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
			return nil, apperror.New(apperror.CodeRateLimited, apperror.WithContext(query), apperror.WithCause(err))
		}
		err = breaker.Translate("ebay", err)
		return nil, apperror.Wrap(err, apperror.CodeMarketplaceError, "search "+query)
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		c.invalidate()
		c.metrics.Upstream("search", "error")
		return nil, apperror.New(apperror.CodeMarketplaceAuth, apperror.WithContext("search token rejected"))
	case resp.StatusCode() != http.StatusOK:
		c.metrics.Upstream("search", "error")
		msg := resp.String()
		if len(body.Errors) > 0 {
			msg = body.Errors[0].Message
		}
		return nil, apperror.New(apperror.CodeMarketplaceError,
			apperror.WithContext(fmt.Sprintf("eBay search failed: %d %s", resp.StatusCode(), msg)))
	}
	c.metrics.Upstream("search", "ok")

	listings := make([]domain.Listing, 0, len(body.ItemSummaries))
	for _, item := range body.ItemSummaries {
		listings = append(listings, c.normalize(item))
	}
	return listings, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) normalize(item itemSummary) domain.Listing {
	title := SanitizeTitle(item.Title)
	if title == "" {
		title = "Unknown Item"
	}
	l := domain.Listing{
		ItemID:              item.ItemID,
		Title:               title,
		URL:                 item.ItemWebURL,
		Price:               parseAmount(item.Price.Value),
		Currency:            item.Price.Currency,
		Condition:           item.Condition,
		City:                item.ItemLocation.City,
		PostalCode:          item.ItemLocation.PostalCode,
		Country:             item.ItemLocation.Country,
		SellerName:          item.Seller.Username,
		SellerFeedbackCount: item.Seller.FeedbackScore,
	}
	if len(item.ShippingOptions) > 0 {
		l.ShippingCost = parseAmount(item.ShippingOptions[0].ShippingCost.Value)
	}
	if pct, err := strconv.ParseFloat(item.Seller.FeedbackPercentage, 64); err == nil {
		l.SellerRating = pct
	}
	if item.ItemEndDate != "" {
		if ends, err := time.Parse(time.RFC3339, item.ItemEndDate); err == nil {
			l.EndsAt = &ends
		} else {
			c.log.WithField("item_id", item.ItemID).WithError(err).Debug("unparseable item end date")
		}
	}
	if IsLocalPickup(l.City) {
		l.LocalPickup = true
		l.DistanceMiles = EstimateDistance(l.City)
	}
	return l
}

func parseAmount(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
