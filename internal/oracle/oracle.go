package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dhblabs/settlement-backend/internal/utils/config"
	"github.com/dhblabs/settlement-backend/internal/utils/logger"
)

var ErrPriceUnavailable = errors.New("no price quote for symbol")

const (
	quoteCacheTTL  = 30 * time.Second
	requestTimeout = 10 * time.Second
)

type PriceOracle struct {
	appConfig  *config.AppConfig
	logger     *logger.Logger
	httpClient *http.Client
	quoteCache *cache.Cache
}

func New(appConfig *config.AppConfig, logger *logger.Logger) IOracle {
	return &PriceOracle{
		appConfig: appConfig,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		quoteCache: cache.New(quoteCacheTTL, 2*quoteCacheTTL),
	}
}

type quoteResponse struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency"`
	Price    string `json:"price"`
	AsOf     int64  `json:"as_of"`
}

func (o *PriceOracle) GetPrice(ctx context.Context, symbol, fiatCurrency string) (*Quote, error) {
	cacheKey := symbol + "/" + fiatCurrency
	if cached, found := o.quoteCache.Get(cacheKey); found {
		return cached.(*Quote), nil
	}

	endpoint := fmt.Sprintf("%s?symbol=%s&currency=%s",
		o.appConfig.Oracle.QuoteAPIURL,
		url.QueryEscape(symbol),
		url.QueryEscape(fiatCurrency),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Error("[GetPrice][Do]", map[string]string{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrapf(ErrPriceUnavailable, "symbol %s/%s", symbol, fiatCurrency)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote api returned status %d", resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil || price.IsZero() {
		return nil, errors.Wrapf(ErrPriceUnavailable, "unusable price %q for %s", body.Price, symbol)
	}

	quote := &Quote{
		Symbol:       symbol,
		FiatCurrency: fiatCurrency,
		Price:        price,
		AsOf:         time.Unix(body.AsOf, 0),
	}
	o.quoteCache.Set(cacheKey, quote, cache.DefaultExpiration)

	return quote, nil
}
