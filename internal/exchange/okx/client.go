// Package okx — адаптер USDT-свопов OKX через подписанный V5 REST.
// Объём на входе и выходе в базовой монете, в контракты (ctVal) переводим здесь.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
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
	name    = models.ExchangeOKX
	baseURL = "https://www.okx.com"
	tdMode  = "cross"
)

type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	simulated bool

	cat     *symbols.Catalog
	cache   *exchange.SymbolCache
	limiter *exchange.Limiter
	retry   exchange.RetryPolicy
	log     *zap.Logger
}

var _ exchange.Adapter = (*Client)(nil)

func New(cfg config.ExchangeConfig, log *zap.Logger) *Client {
	base := baseURL
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
		passph:    cfg.Passphrase,
		simulated: cfg.Testnet,
		cat:       symbols.Default(),
		limiter:   exchange.NewLimiter(cfg.RateLimit, cfg.Burst),
		retry:     retry,
		log:       log.With(zap.String("exchange", string(name))),
	}
	c.cache = exchange.NewSymbolCache(c.fetchSymbolInfo)
	return c
}

func (c *Client) Name() models.Exchange { return name }

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// opStatus — построчный статус торговых операций (sCode/sMsg).
type opStatus struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.send(ctx, op, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, body any, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return &models.ExchangeError{Exchange: name, Op: op, Msg: err.Error(), Kind: models.ErrInvalidOrder}
	}
	return c.send(ctx, op, http.MethodPost, path, payload, out)
}

func (c *Client) send(ctx context.Context, op, method, requestPath string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return exchange.TransportError(name, op, err)
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	req.Header.Set("Content-Type", "application/json")
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

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
		// OKX кладёт бизнес-код и в 4xx ответы
		var env envelope
		if sonic.Unmarshal(data, &env) == nil && env.Code != "" && env.Code != "0" && resp.StatusCode != http.StatusTooManyRequests {
			return apiError(op, env.Code, env.Msg)
		}
		return exchange.HTTPStatusError(name, op, resp.StatusCode, string(data))
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return &models.ExchangeError{Exchange: name, Op: op, Msg: "decode: " + err.Error(), Kind: models.ErrNetwork}
	}
	if env.Code != "0" {
		// для торговых операций причина лежит в data[0].sCode
		var rows []opStatus
		if sonic.Unmarshal(env.Data, &rows) == nil && len(rows) > 0 && rows[0].SCode != "" && rows[0].SCode != "0" {
			return apiError(op, rows[0].SCode, rows[0].SMsg)
		}
		return apiError(op, env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return &models.ExchangeError{Exchange: name, Op: op, Msg: "decode data: " + err.Error(), Kind: models.ErrNetwork}
	}
	return nil
}

var now = time.Now

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
