package market

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"nexus_bot/internal/models"
	"nexus_bot/internal/symbols"
	"nexus_bot/pkg/logger"
)

const readTimeout = 60 * time.Second

// Status — куда отдаём состояние соединения (health).
type Status interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

// Stream читает mark price всех фьючерсов Binance и пишет в кеш.
type Stream struct {
	url    string
	dialer *websocket.Dialer
	cache  *PriceCache
	status Status
	log    *zap.Logger
}

func NewStream(url string, cache *PriceCache, status Status, log *zap.Logger) *Stream {
	if log == nil {
		log = logger.L()
	}
	return &Stream{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		cache:  cache,
		status: status,
		log:    log.With(zap.String("component", "price_stream")),
	}
}

// Run держит соединение до отмены ctx, переподключаясь с backoff.
func (s *Stream) Run(ctx context.Context) {
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		got, err := s.session(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		if got {
			b.Reset()
		}
		wait := b.Duration()
		s.log.Warn("price stream dropped, reconnecting", zap.Error(err), zap.Duration("in", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session — одно подключение. got = успели получить хотя бы один кадр.
func (s *Stream) session(ctx context.Context) (got bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// закрываем соединение при отмене, иначе ReadMessage висит до таймаута
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	s.setConnected(true)
	s.log.Info("price stream connected", zap.String("url", s.url))

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return got, err
		}
		ticks, err := ParseMarkPrices(msg)
		if err != nil {
			s.log.Debug("skip frame", zap.Error(err))
			continue
		}
		now := time.Now()
		for _, t := range ticks {
			s.cache.Put(models.ExchangeBinance, t.Symbol, t.Price, t.At)
		}
		if len(ticks) > 0 {
			got = true
			if s.status != nil {
				s.status.TouchTick(now)
			}
		}
	}
}

func (s *Stream) setConnected(v bool) {
	if s.status != nil {
		s.status.SetWSConnected(v)
	}
}

type Tick struct {
	Symbol string
	Price  float64
	At     time.Time
}

type markPriceFrame struct {
	Event  string `json:"e"`
	Time   int64  `json:"E"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

// ParseMarkPrices разбирает кадр !markPrice@arr: массив или одиночный объект.
func ParseMarkPrices(msg []byte) ([]Tick, error) {
	var frames []markPriceFrame
	if len(msg) > 0 && msg[0] == '{' {
		var one markPriceFrame
		if err := sonic.Unmarshal(msg, &one); err != nil {
			return nil, err
		}
		frames = append(frames, one)
	} else if err := sonic.Unmarshal(msg, &frames); err != nil {
		return nil, err
	}

	out := make([]Tick, 0, len(frames))
	for _, f := range frames {
		if f.Event != "markPriceUpdate" || f.Symbol == "" {
			continue
		}
		px, err := strconv.ParseFloat(f.Price, 64)
		if err != nil || px <= 0 {
			continue
		}
		out = append(out, Tick{
			Symbol: symbols.Default().FromExchange(models.ExchangeBinance, f.Symbol),
			Price:  px,
			At:     time.UnixMilli(f.Time),
		})
	}
	return out, nil
}
