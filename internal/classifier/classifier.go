// Package classifier turns filing metadata and document text into typed
// dilution events using ordered keyword rules.
package classifier

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajharbinger/dilution-monitor/internal/models"
)

// MaxTextChars is how much leading document text the rules look at
const MaxTextChars = 5000

// amountProximity is how far (in bytes) a dollar amount may sit from a rule keyword
const amountProximity = 500

// Confidence levels
const (
	ConfidenceShelf         = 1.0
	ConfidenceKeyword       = 0.7
	ConfidenceKeywordAmount = 0.9
)

// Input is what the classifier sees for one filing
type Input struct {
	FilingType string
	FiledDate  *time.Time
	Text       string
}

// Result is the classifier output
type Result struct {
	IsDilutionEvent bool
	DilutionType    *models.DilutionType
	OfferingAmount  *decimal.Decimal
	Confidence      float64
}

// Classifier decides whether a filing is a dilution event.
// Implementations must be deterministic and must not fail.
type Classifier interface {
	Classify(in Input) Result
}

// rule matches when every one of its term groups matches somewhere in the text
type rule struct {
	dilutionType models.DilutionType
	terms        []*regexp.Regexp
}

var rules = []rule{
	{models.DilutionATM, []*regexp.Regexp{regexp.MustCompile(`(?i)at[- ]the[- ]market|\bATM\b`)}},
	{models.DilutionRegisteredDirect, []*regexp.Regexp{regexp.MustCompile(`(?i)registered\s+direct`)}},
	{models.DilutionFollowOn, []*regexp.Regexp{
		regexp.MustCompile(`(?i)public\s+offering`),
		regexp.MustCompile(`(?i)underwriting`),
	}},
	{models.DilutionConvertible, []*regexp.Regexp{
		regexp.MustCompile(`(?i)convertible`),
		regexp.MustCompile(`(?i)note`),
	}},
	{models.DilutionPIPE, []*regexp.Regexp{regexp.MustCompile(`(?i)private\s+placement|\bPIPE\b`)}},
}

var dollarPattern = regexp.MustCompile(`(?i)\$([\d,.]+)\s*(million|billion)`)

var (
	million = decimal.NewFromInt(1_000_000)
	billion = decimal.NewFromInt(1_000_000_000)
)

// KeywordClassifier is the rule-based Classifier
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default classifier
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// NeedsText reports whether the filing type is classified from its document text
func NeedsText(filingType string) bool {
	switch strings.ToUpper(strings.TrimSpace(filingType)) {
	case "424B5", "424B5/A", "8-K", "8-K/A":
		return true
	}
	return false
}

// Classify applies the shelf auto-flag and the ordered keyword rules
func (c *KeywordClassifier) Classify(in Input) Result {
	if models.IsShelfForm(strings.ToUpper(strings.TrimSpace(in.FilingType))) {
		t := models.DilutionATMShelf
		return Result{IsDilutionEvent: true, DilutionType: &t, Confidence: ConfidenceShelf}
	}
	if !NeedsText(in.FilingType) {
		return Result{}
	}
	return ClassifyText(in.Text)
}

// ClassifyText runs the keyword rules against document text, first match wins
func ClassifyText(text string) Result {
	if len(text) > MaxTextChars {
		text = truncate(text, MaxTextChars)
	}

	for _, r := range rules {
		locs, ok := r.match(text)
		if !ok {
			continue
		}

		t := r.dilutionType
		res := Result{IsDilutionEvent: true, DilutionType: &t, Confidence: ConfidenceKeyword}
		if amount := extractAmountNear(text, locs); amount != nil {
			res.OfferingAmount = amount
			res.Confidence = ConfidenceKeywordAmount
		}
		return res
	}
	return Result{}
}

// match returns every keyword location when all term groups are present
func (r rule) match(text string) ([][]int, bool) {
	var locs [][]int
	for _, term := range r.terms {
		found := term.FindAllStringIndex(text, -1)
		if len(found) == 0 {
			return nil, false
		}
		locs = append(locs, found...)
	}
	return locs, true
}

// extractAmountNear returns the first dollar amount lying within amountProximity
// of any keyword occurrence
func extractAmountNear(text string, keywordLocs [][]int) *decimal.Decimal {
	for _, m := range dollarPattern.FindAllStringSubmatchIndex(text, -1) {
		if !near(m[0], m[1], keywordLocs) {
			continue
		}
		amount, ok := parseAmount(text[m[2]:m[3]], text[m[4]:m[5]])
		if ok {
			return &amount
		}
	}
	return nil
}

// ExtractDollarAmount returns the first "$N million|billion" amount in text
func ExtractDollarAmount(text string) *decimal.Decimal {
	for _, m := range dollarPattern.FindAllStringSubmatch(text, -1) {
		if amount, ok := parseAmount(m[1], m[2]); ok {
			return &amount
		}
	}
	return nil
}

func near(start, end int, locs [][]int) bool {
	for _, loc := range locs {
		if start <= loc[1]+amountProximity && end >= loc[0]-amountProximity {
			return true
		}
	}
	return false
}

func parseAmount(number, unit string) (decimal.Decimal, bool) {
	number = strings.TrimRight(strings.ReplaceAll(number, ",", ""), ".")
	if number == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(number)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	if strings.EqualFold(unit, "billion") {
		return d.Mul(billion), true
	}
	return d.Mul(million), true
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// ToEvent combines listing metadata with a classification result
func ToEvent(entityID int64, meta models.FilingMetadata, res Result, at time.Time) models.FilingEvent {
	return models.FilingEvent{
		EntityID:        entityID,
		AccessionID:     meta.AccessionID,
		FilingType:      meta.FilingType,
		FiledDate:       meta.FiledDate,
		DocumentURL:     meta.DocumentURL,
		IsDilutionEvent: res.IsDilutionEvent,
		DilutionType:    res.DilutionType,
		OfferingAmount:  res.OfferingAmount,
		Confidence:      res.Confidence,
		ClassifiedAt:    at,
	}
}
