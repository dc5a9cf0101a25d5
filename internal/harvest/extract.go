package harvest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page landmarks.
const (
	TitleSelector       = ".QuestionHeader-title"
	descriptionSelector = ".QuestionHeader .RichText.ztext"
)

// ItemSelectors lists answer container selectors in priority order. The
// first one present in a page is used for both counting and extraction.
var ItemSelectors = []string{".List-item", ".AnswerItem"}

var (
	voteButtonSelectors  = []string{".VoteButton--up", ".VoteButton", `[aria-label^="赞同"]`}
	voteCounterSelectors = []string{".VoteButton-count", ".Vote-count"}
	contentSelectors     = []string{".RichText.ztext", ".RichContent-inner"}

	voteToken   = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?\s*[KkWw万千]?`)
	ipPrefix    = regexp.MustCompile(`^IP\s*属地\s*[：:]\s*`)
	whitespaces = regexp.MustCompile(`\s+`)
)

// rule extracts one field from an answer item. ok is false when the rule's
// markup is absent so the next rule can be tried.
type rule func(item *goquery.Selection) (value string, ok bool)

// Extractor reads answer records from a DOM snapshot.
type Extractor struct {
	renderer TextRenderer
	author   []rule
	vote     []rule
	ip       []rule
	content  []rule
}

// NewExtractor builds an Extractor that renders answer bodies with renderer.
func NewExtractor(renderer TextRenderer) *Extractor {
	e := &Extractor{renderer: renderer}
	e.author = []rule{
		textRule(".AuthorInfo-name"),
		textRule(".UserLink-link"),
		attrRule(`[itemprop="author"] [itemprop="name"]`, "content"),
	}
	for _, sel := range voteButtonSelectors {
		e.vote = append(e.vote, labelTokenRule(sel), textTokenRule(sel))
	}
	for _, sel := range voteCounterSelectors {
		e.vote = append(e.vote, textTokenRule(sel))
	}
	e.ip = []rule{ipRule}
	for _, sel := range contentSelectors {
		e.content = append(e.content, e.renderedRule(sel))
	}
	return e
}

// Snapshot is the parsed state of a question page.
type Snapshot struct {
	Title       string
	Description string
	Records     []Record
}

// Extract parses html and returns every answer in document order.
func (e *Extractor) Extract(html string) (Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	snap := Snapshot{
		Title:       collapse(doc.Find(TitleSelector).First().Text()),
		Description: e.render(doc.Find(descriptionSelector).First()),
	}
	items := selectItems(doc)
	items.Each(func(_ int, item *goquery.Selection) {
		snap.Records = append(snap.Records, e.record(item))
	})
	return snap, nil
}

func (e *Extractor) record(item *goquery.Selection) Record {
	raw := firstMatch(item, e.vote, DefaultVoteRaw)
	return Record{
		Author:     firstMatch(item, e.author, DefaultAuthor),
		Content:    firstMatch(item, e.content, DefaultContent),
		IPLocation: firstMatch(item, e.ip, DefaultIPLocation),
		VoteRaw:    raw,
		VoteCount:  NormalizeVotes(raw),
	}
}

func (e *Extractor) renderedRule(selector string) rule {
	return func(item *goquery.Selection) (string, bool) {
		text := e.render(item.Find(selector).First())
		return text, text != ""
	}
}

func (e *Extractor) render(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if e.renderer == nil {
		return strings.TrimSpace(sel.Text())
	}
	markup, err := goquery.OuterHtml(sel)
	if err != nil {
		return strings.TrimSpace(sel.Text())
	}
	return strings.TrimSpace(e.renderer.Text(markup))
}

func selectItems(doc *goquery.Document) *goquery.Selection {
	for _, sel := range ItemSelectors {
		if items := doc.Find(sel); items.Length() > 0 {
			return items
		}
	}
	return doc.Find(ItemSelectors[0])
}

func firstMatch(item *goquery.Selection, rules []rule, def string) string {
	for _, r := range rules {
		if v, ok := r(item); ok {
			return v
		}
	}
	return def
}

func textRule(selector string) rule {
	return func(item *goquery.Selection) (string, bool) {
		text := collapse(item.Find(selector).First().Text())
		return text, text != ""
	}
}

func attrRule(selector, attr string) rule {
	return func(item *goquery.Selection) (string, bool) {
		v, ok := item.Find(selector).First().Attr(attr)
		v = collapse(v)
		return v, ok && v != ""
	}
}

func labelTokenRule(selector string) rule {
	return func(item *goquery.Selection) (string, bool) {
		label, ok := item.Find(selector).First().Attr("aria-label")
		if !ok {
			return "", false
		}
		return numericToken(label)
	}
}

func textTokenRule(selector string) rule {
	return func(item *goquery.Selection) (string, bool) {
		return numericToken(item.Find(selector).First().Text())
	}
}

func ipRule(item *goquery.Selection) (string, bool) {
	var out string
	item.Find(".AuthorInfo-detail span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := collapse(s.Text())
		if !strings.Contains(text, "IP") && !strings.Contains(text, "属地") {
			return true
		}
		out = strings.TrimSpace(ipPrefix.ReplaceAllString(text, ""))
		return false
	})
	return out, out != ""
}

func numericToken(s string) (string, bool) {
	tok := voteToken.FindString(s)
	tok = strings.ReplaceAll(tok, " ", "")
	return tok, tok != ""
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaces.ReplaceAllString(s, " "))
}
