// Package listing narrows raw marketplace listings down to the ones that are
// really the requested card print.
package listing

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/guarzo/cardshop/internal/model"
)

// Target identifies the card print a listing must match.
type Target struct {
	Number   string
	Rarity   string
	Rarities []string // every known rarity of the card, Rarity included
}

// Keywords returns the tokens every matching title must contain.
func (t Target) Keywords() []string {
	var out []string
	for _, k := range []string{t.Number, t.Rarity} {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Query is the search string sent to the marketplace for this target.
func (t Target) Query() string {
	return strings.Join(t.Keywords(), " ")
}

// TargetFor builds the filter target of a resolved request.
func TargetFor(req model.ProductRequestExtended) Target {
	return Target{Number: req.CardNumber, Rarity: req.Rarity, Rarities: req.Rarities}
}

// Rules holds the marker lists used by the exclusion stages.
type Rules struct {
	IllegalMarkers []string
	FanMarkers     []string
	PackMarkers    []string
	MaxResults     int
}

// DefaultRules returns the marker lists tuned for Ruten card listings.
func DefaultRules() Rules {
	return Rules{
		// Non-Japanese prints and mangled encodings
		IllegalMarkers: []string{"韓", "簡中", "英文", "\uFFFD"},
		FanMarkers:     []string{"同人", "自製", "DIY", "非官方"},
		PackMarkers:    []string{"未拆", "補充包", "原盒", "卡盒", "BOX"},
		MaxResults:     10,
	}
}

type stage func(title string) bool

// Filter returns the listings that match target, in input order, truncated to
// rules.MaxResults. Input is expected in ascending price order.
func Filter(listings []model.ProdDetail, target Target, rules Rules) []model.ProdDetail {
	stages := []stage{
		keywordStage(target.Keywords()),
		markerStage(rules.IllegalMarkers),
		markerStage(rules.FanMarkers),
		markerStage(rules.PackMarkers),
		rarityStage(target),
	}

	type candidate struct {
		detail model.ProdDetail
		title  string
	}
	survivors := make([]candidate, 0, len(listings))
	for _, l := range listings {
		survivors = append(survivors, candidate{detail: l, title: NormalizeTitle(l.Name)})
	}

	for _, keep := range stages {
		next := survivors[:0]
		for _, c := range survivors {
			if keep(c.title) {
				next = append(next, c)
			}
		}
		survivors = next
	}

	max := rules.MaxResults
	if max <= 0 || max > len(survivors) {
		max = len(survivors)
	}
	out := make([]model.ProdDetail, 0, max)
	for _, c := range survivors[:max] {
		out = append(out, c.detail)
	}
	return out
}

// highlightTag matches the markup the search API wraps around hits.
var highlightTag = regexp.MustCompile(`(?i)^</?(?:em|b|strong|mark|span)(?:\s[^<>]*)?>`)

// NormalizeTitle strips search-highlight markup and entities from a listing
// title and collapses whitespace. Other angle brackets are kept as text.
func NormalizeTitle(title string) string {
	if strings.ContainsAny(title, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(escapeStrayBrackets(title))); err == nil {
			title = doc.Text()
		}
	}
	return strings.Join(strings.Fields(title), " ")
}

// escapeStrayBrackets escapes every '<' that does not open or close a
// highlight tag, so "<SR>" survives parsing as text.
func escapeStrayBrackets(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '<' && !highlightTag.MatchString(s[i:]) {
			b.WriteString("&lt;")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func keywordStage(keywords []string) stage {
	upper := make([]string, len(keywords))
	for i, k := range keywords {
		upper[i] = strings.ToUpper(k)
	}
	return func(title string) bool {
		t := strings.ToUpper(title)
		for _, k := range upper {
			if !strings.Contains(t, k) {
				return false
			}
		}
		return true
	}
}

func markerStage(markers []string) stage {
	return func(title string) bool {
		t := strings.ToUpper(title)
		for _, m := range markers {
			if m != "" && strings.Contains(t, strings.ToUpper(m)) {
				return false
			}
		}
		return true
	}
}

// rarityStage rejects titles naming one of the card's other rarities as a
// standalone token. It only applies when the card has several rarities.
func rarityStage(target Target) stage {
	if target.Rarity == "" || len(target.Rarities) < 2 {
		return func(string) bool { return true }
	}

	var others []*regexp.Regexp
	for _, r := range target.Rarities {
		if r == "" || strings.EqualFold(r, target.Rarity) {
			continue
		}
		others = append(others, tokenPattern(r))
	}

	return func(title string) bool {
		for _, re := range others {
			if re.MatchString(title) {
				return false
			}
		}
		return true
	}
}

func tokenPattern(token string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^A-Za-z0-9])` + regexp.QuoteMeta(token) + `($|[^A-Za-z0-9])`)
}
