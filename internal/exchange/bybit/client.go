// Package bybit — адаптер линейных контрактов Bybit через подписанный V5 REST.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"nexus_bot/internal/exchange"
	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/symbols"
	"nexus_bot/pkg/logger"
)

const (
	name = models.ExchangeBybit

	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"
	recvWindow = "5000"
	category   = "linear"
)

type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string

	cat     *symbols.Catalog
	cache   *exchange.SymbolCache
	limiter *exchange.Limiter
	retry   exchange.RetryPolicy
	log     *zap.Logger
}

var _ exchange.Adapter = (*Client)(nil)

func New(cfg config.ExchangeConfig, log *zap.Logger) *Client {
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if log == nil {
		log = logger.L()
	}
	retry := exchange.DefaultRetry()
	if cfg.Retries > 0 {
		retry.Attempts = cfg.Retries
	}

	c := &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   base,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		cat:       symbols.Default(),
		limiter:   exchange.NewLimiter(cfg.RateLimit, cfg.Burst),
		retry:     retry,
		log:       log.With(zap.String("exchange", string(name))),
	}
	c.cache = exchange.NewSymbolCache(c.fetchSymbolInfo)
	return c
}

func (c *Client) Name() models.Exchange { return name }

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign: timestamp + apiKey + recvWindow + (query | body), hex(HMAC-SHA256).
func (c *Client) sign(ts, payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// get — GET с подписью, query сортируется url.Values.
func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	return c.send(ctx, op, http.MethodGet, path, q.Encode(), nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, body map[string]any, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return &models.ExchangeError{Exchange: name, Op: op, Msg: err.Error(), Kind: models.ErrInvalidOrder}
	}
	return c.send(ctx, op, http.MethodPost, path, "", payload, out)
}

func (c *Client) send(ctx context.Context, op, method, path, query string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	signed := string(payload)
	if query != "" {
		endpoint += "?" + query
		signed = query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return exchange.TransportError(name, op, err)
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts, signed))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return exchange.TransportError(name, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.TransportError(name, op, err)
	}
	if resp.StatusCode/100 != 2 {
		return exchange.HTTPStatusError(name, op, resp.StatusCode, string(data))
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return &models.ExchangeError{Exchange: name, Op: op, Msg: "decode: " + err.Error(), Kind: models.ErrNetwork}
	}
	if env.RetCode != 0 {
		return apiError(op, env.RetCode, env.RetMsg)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(env.Result, out); err != nil {
		return &models.ExchangeError{Exchange: name, Op: op, Msg: "decode result: " + err.Error(), Kind: models.ErrNetwork}
	}
	return nil
}

var now = time.Now

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
