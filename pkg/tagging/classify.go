package tagging

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Tag names produced by the default rule table
const (
	TagLogistics  = "logistics"
	TagAfterSales = "after_sales"
	TagPreSales   = "pre_sales"
)

// Rule maps one tag onto the keywords and phrases that trigger it.
// Latin keywords match case-insensitively at a word start, so "track"
// also matches "tracking"; other scripts match as plain substrings.
type Rule struct {
	Tag      string   `yaml:"tag" json:"tag"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// DefaultRules is evaluated in this order. Order only fixes the order of
// the returned tags; the result is a set.
var DefaultRules = []Rule{
	{
		Tag: TagLogistics,
		Keywords: []string{
			"track", "package", "parcel", "ship", "deliver", "courier",
			"logistic", "customs", "dispatch", "where is my order",
			"物流", "快递", "单号", "发货", "到货", "运单", "清关",
			"envío", "envio", "rastreo", "paquete",
		},
	},
	{
		Tag: TagAfterSales,
		Keywords: []string{
			"refund", "return", "broken", "damage", "defect", "replace",
			"warranty", "complain", "wrong item", "missing", "not working",
			"退款", "退货", "换货", "破损", "坏了", "售后", "质量问题",
			"reembolso", "devolución", "devolucion", "roto",
		},
	},
	{
		Tag: TagPreSales,
		Keywords: []string{
			"price", "pricing", "quote", "quotation", "how much", "cost",
			"lead time", "moq", "minimum order", "discount", "catalog",
			"catalogue", "sample", "wholesale", "in stock",
			"价格", "报价", "多少钱", "交期", "起订量", "样品", "批发", "优惠",
			"precio", "cotización", "cotizacion", "muestra",
		},
	},
}

// Classifier holds a compiled rule table
type Classifier struct {
	tags     []string
	patterns []*regexp.Regexp
}

// NewClassifier compiles rules into one pattern per tag
func NewClassifier(rules []Rule) (*Classifier, error) {
	c := &Classifier{}
	for _, rule := range rules {
		if rule.Tag == "" {
			return nil, fmt.Errorf("tag rule without a tag name")
		}
		pattern, err := compileKeywords(rule.Keywords)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Tag, err)
		}
		if pattern == nil {
			continue
		}
		c.tags = append(c.tags, rule.Tag)
		c.patterns = append(c.patterns, pattern)
	}
	return c, nil
}

// MustNewClassifier is NewClassifier for tables known to be valid
func MustNewClassifier(rules []Rule) *Classifier {
	c, err := NewClassifier(rules)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the tags whose keywords occur in text, in table order.
// Text matching nothing yields an empty, non-nil slice.
func (c *Classifier) Classify(text string) []string {
	tags := []string{}
	if strings.TrimSpace(text) == "" {
		return tags
	}
	for i, pattern := range c.patterns {
		if pattern.MatchString(text) {
			tags = append(tags, c.tags[i])
		}
	}
	return tags
}

// Tags lists the tag names this classifier can produce
func (c *Classifier) Tags() []string {
	out := make([]string, len(c.tags))
	copy(out, c.tags)
	return out
}

var defaultClassifier = MustNewClassifier(DefaultRules)

// Classify runs the default rule table over text
func Classify(text string) []string {
	return defaultClassifier.Classify(text)
}

func compileKeywords(keywords []string) (*regexp.Regexp, error) {
	var alternatives []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		quoted := regexp.QuoteMeta(kw)
		if isLatin(kw) {
			quoted = `\b` + quoted
		}
		alternatives = append(alternatives, quoted)
	}
	if len(alternatives) == 0 {
		return nil, nil
	}
	return regexp.Compile(`(?i)(?:` + strings.Join(alternatives, "|") + `)`)
}

// isLatin reports whether a word boundary is meaningful for kw
func isLatin(kw string) bool {
	for _, r := range kw {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
