package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"b2brecon/internal/domain"
	"b2brecon/internal/normalize"
)

// DefaultPaths are tried after the home page and learned patterns.
var DefaultPaths = []string{"/contacts", "/kontakty", "/contact", "/about", "/o-kompanii", "/rekvizity", "/requisites"}

var (
	taxIDRe = regexp.MustCompile(`(?i)(?:ИНН|INN)[^\d]{0,30}(\d{12}|\d{10})(?:\D|$)`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

var linkHints = []string{"контакт", "contact", "реквизит", "requisit", "rekvizit", "о компании", "about"}

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// PatternSource supplies learned URL paths, most useful first.
type PatternSource interface {
	URLPatterns(ctx context.Context, limit int) ([]string, error)
}

type Options struct {
	Timeout  time.Duration
	MaxPages int
	// RequestsPerSecond caps outgoing page fetches across all domains.
	RequestsPerSecond float64
	// Scheme used to reach a domain. Defaults to https.
	Scheme    string
	UserAgent string
}

// Extractor visits a domain's pages and pulls a labelled tax ID and contact
// emails out of them.
type Extractor struct {
	client   *http.Client
	limiter  *rate.Limiter
	patterns PatternSource
	opts     Options
	log      *zap.Logger
}

func New(patterns PatternSource, opts Options, log *zap.Logger) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 12 * time.Second
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 8
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; b2brecon/1.0)"
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		patterns: patterns,
		opts:     opts,
		log:      log,
	}
}

// Process never returns an error; failures are reported in the result.
func (e *Extractor) Process(ctx context.Context, name string) domain.EnrichmentResult {
	host := siteHost(name)
	res := domain.EnrichmentResult{Domain: normalize.ExtractRootDomain(name), Emails: []string{}, SourceURLs: []string{}}
	if host == "" {
		res.Error = "invalid domain"
		return res
	}
	base := &url.URL{Scheme: e.opts.Scheme, Host: host}

	home, err := e.fetch(ctx, base.String()+"/")
	if err != nil {
		res.Error = "unreachable: " + err.Error()
		return res
	}

	queue := e.candidates(ctx, base, home)
	emails := map[string]bool{}
	visited := 0
	for _, pageURL := range queue {
		if visited >= e.opts.MaxPages || ctx.Err() != nil {
			break
		}
		doc := home
		if visited > 0 {
			doc, err = e.fetch(ctx, pageURL)
			if err != nil {
				e.log.Debug("page skipped", zap.String("url", pageURL), zap.Error(err))
				visited++
				continue
			}
		}
		visited++

		found := false
		if res.TaxID == "" {
			if id := FindTaxID(pageText(doc)); id != "" {
				res.TaxID = id
				found = true
			}
		}
		for _, m := range FindEmails(doc) {
			if !emails[m] {
				emails[m] = true
				found = true
			}
		}
		if found {
			res.SourceURLs = append(res.SourceURLs, pageURL)
		}
		if res.TaxID != "" && len(emails) > 0 {
			break
		}
	}
	res.Emails = rankEmails(emails, res.Domain)
	return res
}

// candidates orders the pages to visit: home, learned paths, links on the
// home page that look like contact pages, then the built-in paths.
func (e *Extractor) candidates(ctx context.Context, base *url.URL, home *goquery.Document) []string {
	seen := map[string]bool{}
	var out []string
	add := func(ref string) {
		u, err := base.Parse(ref)
		if err != nil || !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		u.Fragment = ""
		key := strings.TrimRight(u.String(), "/")
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, u.String())
	}

	add("/")
	if e.patterns != nil {
		learned, err := e.patterns.URLPatterns(ctx, e.opts.MaxPages)
		if err != nil {
			e.log.Warn("learned patterns unavailable", zap.Error(err))
		}
		for _, p := range learned {
			add(p)
		}
	}
	home.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		label := strings.ToLower(a.Text() + " " + href)
		for _, hint := range linkHints {
			if strings.Contains(label, hint) {
				add(href)
				return
			}
		}
	})
	for _, p := range DefaultPaths {
		add(p)
	}
	return out
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("not html: %s", ct)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
}

// siteHost keeps the port, unlike normalize.Host.
func siteHost(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSuffix(u.Host, "."), "www.")
}

func pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}

// FindTaxID returns the first labelled tax ID with a valid checksum.
func FindTaxID(text string) string {
	for _, m := range taxIDRe.FindAllStringSubmatch(text, -1) {
		if ValidTaxID(m[1]) {
			return m[1]
		}
	}
	return ""
}

// ValidTaxID checks length and control digits of a 10 or 12 digit tax ID.
func ValidTaxID(s string) bool {
	d := make([]int, len(s))
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		d[i] = int(r - '0')
	}
	check := func(coef []int, n int) bool {
		sum := 0
		for i, c := range coef {
			sum += c * d[i]
		}
		return sum%11%10 == d[n]
	}
	switch len(d) {
	case 10:
		return check([]int{2, 4, 10, 3, 5, 9, 4, 6, 8}, 9)
	case 12:
		return check([]int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}, 10) &&
			check([]int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}, 11)
	}
	return false
}

// FindEmails collects addresses from mailto links and visible text.
func FindEmails(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.ToLower(strings.Trim(s, " .,;:<>()[]\"'"))
		if s == "" || seen[s] || !emailRe.MatchString(s) {
			return
		}
		for _, suf := range assetSuffixes {
			if strings.HasSuffix(s, suf) {
				return
			}
		}
		seen[s] = true
		out = append(out, s)
	}
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if u, err := url.PathUnescape(addr); err == nil {
			addr = u
		}
		add(addr)
	})
	for _, m := range emailRe.FindAllString(doc.Find("body").Text(), -1) {
		add(m)
	}
	return out
}

// rankEmails puts addresses on the site's own domain first.
func rankEmails(set map[string]bool, root string) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	own := func(m string) bool {
		at := strings.LastIndexByte(m, '@')
		return at >= 0 && normalize.ExtractRootDomain(m[at+1:]) == root
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := own(out[i]), own(out[j])
		if oi != oj {
			return oi
		}
		return out[i] < out[j]
	})
	return out
}
