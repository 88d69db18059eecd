// Package symbols приводит тикеры к каноничному виду (BTCUSDT), знает классы
// активов и биржевые алиасы.
package symbols

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"nexus_bot/internal/models"
)

//go:embed catalog.toml
var defaultCatalog []byte

const quote = "USDT"

type catalogFile struct {
	Groups    map[string][]string `toml:"groups"`
	Exchanges map[string]struct {
		Classes []string `toml:"classes"`
	} `toml:"exchanges"`
	Aliases map[string]map[string]string `toml:"aliases"`
}

// Catalog неизменяем после загрузки, читать можно конкурентно.
type Catalog struct {
	classes  map[string]models.AssetClass
	supports map[models.Exchange]map[models.AssetClass]bool
	aliases  map[models.Exchange]map[string]string
	reverse  map[models.Exchange]map[string]string
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default — встроенный каталог.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultCatalog)
		if err != nil {
			panic(err)
		}
		defaultCat = c
	})
	return defaultCat
}

func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, errors.Wrap(err, "decode symbol catalog")
	}

	c := &Catalog{
		classes:  make(map[string]models.AssetClass),
		supports: make(map[models.Exchange]map[models.AssetClass]bool),
		aliases:  make(map[models.Exchange]map[string]string),
		reverse:  make(map[models.Exchange]map[string]string),
	}
	for group, list := range f.Groups {
		class := models.AssetClass(strings.ToUpper(group))
		for _, s := range list {
			c.classes[Normalize(s)] = class
		}
	}
	for name, ex := range f.Exchanges {
		id, ok := models.ParseExchange(name)
		if !ok {
			return nil, errors.Errorf("catalog: unknown exchange %q", name)
		}
		set := make(map[models.AssetClass]bool, len(ex.Classes))
		for _, cl := range ex.Classes {
			set[models.AssetClass(strings.ToUpper(cl))] = true
		}
		c.supports[id] = set
	}
	for name, m := range f.Aliases {
		id, ok := models.ParseExchange(name)
		if !ok {
			return nil, errors.Errorf("catalog: unknown exchange %q in aliases", name)
		}
		fw := make(map[string]string, len(m))
		bw := make(map[string]string, len(m))
		for canon, wire := range m {
			fw[Normalize(canon)] = Normalize(wire)
			bw[Normalize(wire)] = Normalize(canon)
		}
		c.aliases[id] = fw
		c.reverse[id] = bw
	}
	return c, nil
}

// Normalize: "BTC/USDT:USDT", "BTC-USDT-SWAP", "btc_usdt" -> "BTCUSDT".
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(s, ':'); i > 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "-SWAP")
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	return s
}

// AssetClassOf — класс актива; неизвестный ...USDT считаем криптой.
func (c *Catalog) AssetClassOf(symbol string) models.AssetClass {
	s := Normalize(symbol)
	if cl, ok := c.classes[s]; ok {
		return cl
	}
	if strings.HasSuffix(s, quote) {
		return models.AssetCrypto
	}
	return models.AssetStock
}

func (c *Catalog) Supports(ex models.Exchange, class models.AssetClass) bool {
	return c.supports[ex][class]
}

// ToExchange — биржевой тикер: сначала алиас, потом формат биржи.
func (c *Catalog) ToExchange(ex models.Exchange, symbol string) string {
	s := Normalize(symbol)
	if a, ok := c.aliases[ex][s]; ok {
		s = a
	}
	return wireFormat(ex, s)
}

// FromExchange — обратно в канон, алиас разворачивается.
func (c *Catalog) FromExchange(ex models.Exchange, wire string) string {
	s := Normalize(wire)
	if canon, ok := c.reverse[ex][s]; ok {
		return canon
	}
	return s
}

// Candidates — основной тикер и исправленный вариант для одного ретрая
// после отказа биржи по формату символа.
func (c *Catalog) Candidates(ex models.Exchange, symbol string) []string {
	primary := c.ToExchange(ex, symbol)
	out := []string{primary}

	s := Normalize(symbol)
	var alt string
	if _, ok := c.aliases[ex][s]; ok {
		alt = wireFormat(ex, s)
	} else {
		alt = wireFormat(ex, swapThousands(s))
	}
	if alt != "" && alt != primary {
		out = append(out, alt)
	}
	return out
}

func wireFormat(ex models.Exchange, s string) string {
	switch ex {
	case models.ExchangeOKX:
		if base, ok := strings.CutSuffix(s, quote); ok && base != "" {
			return base + "-" + quote + "-SWAP"
		}
		return s
	default:
		return s
	}
}

// 1000SHIBUSDT <-> SHIB1000USDT
func swapThousands(s string) string {
	base, ok := strings.CutSuffix(s, quote)
	if !ok {
		return s
	}
	switch {
	case strings.HasPrefix(base, "1000"):
		return strings.TrimPrefix(base, "1000") + "1000" + quote
	case strings.HasSuffix(base, "1000"):
		return "1000" + strings.TrimSuffix(base, "1000") + quote
	}
	return s
}
