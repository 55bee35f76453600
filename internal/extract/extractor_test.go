package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPatterns []string

func (p staticPatterns) URLPatterns(context.Context, int) ([]string, error) { return p, nil }

func site(t *testing.T, pages map[string]string) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func hostOf(srv *httptest.Server) string { return strings.TrimPrefix(srv.URL, "http://") }

func TestValidTaxID(t *testing.T) {
	for _, ok := range []string{"7707083893", "7736207543", "500100732259"} {
		assert.True(t, ValidTaxID(ok), ok)
	}
	for _, bad := range []string{"7707083894", "1234567890", "123456789012", "77070838", "77070838a3", ""} {
		assert.False(t, ValidTaxID(bad), bad)
	}
}

func TestFindTaxID(t *testing.T) {
	assert.Equal(t, "7707083893", FindTaxID("ООО Ромашка, ИНН: 7707083893, КПП 773601001"))
	assert.Equal(t, "7707083893", FindTaxID("ИНН/КПП 7707083893/773601001"))
	assert.Equal(t, "500100732259", FindTaxID("inn 500100732259"))
	assert.Equal(t, "", FindTaxID("ИНН 1234567890"), "checksum must pass")
	assert.Equal(t, "", FindTaxID("Телефон 7707083893"), "label required")
	assert.Equal(t, "", FindTaxID("ИНН 77070838931"), "11 digits is not a tax id")
}

func TestFindEmails(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body>
		<a href="mailto:Sales@Acme.ru?subject=hi">write</a>
		<p>info@acme.ru, logo@2x.png</p>
	</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"sales@acme.ru", "info@acme.ru"}, FindEmails(doc))
}

func TestProcess_HomeAndContacts(t *testing.T) {
	srv, _ := site(t, map[string]string{
		"/": `<html><body><a href="/kontakty">Контакты</a><p>mail: info@gmail.com</p></body></html>`,
		"/kontakty": `<html><body><p>ИНН 7707083893</p><a href="mailto:office@127.0.0.1">office</a>
			<script>var x = "noise@script.js"</script></body></html>`,
	})
	e := New(nil, Options{Scheme: "http"}, nil)
	res := e.Process(context.Background(), hostOf(srv))

	assert.Empty(t, res.Error)
	assert.Equal(t, "127.0.0.1", res.Domain)
	assert.Equal(t, "7707083893", res.TaxID)
	assert.Contains(t, res.Emails, "info@gmail.com")
	require.Len(t, res.SourceURLs, 2)
	assert.True(t, strings.HasSuffix(res.SourceURLs[1], "/kontakty"))
}

func TestProcess_LearnedPatternTriedFirst(t *testing.T) {
	srv, hits := site(t, map[string]string{
		"/":                `<html><body>welcome</body></html>`,
		"/company/details": `<html><body>ИНН 7736207543 <a href="mailto:a@b.ru">a</a></body></html>`,
	})
	e := New(staticPatterns{"/company/details"}, Options{Scheme: "http"}, nil)
	res := e.Process(context.Background(), hostOf(srv))

	assert.Equal(t, "7736207543", res.TaxID)
	assert.Equal(t, []string{"/", "/company/details"}, *hits, "stops once both values are found")
}

func TestProcess_MaxPages(t *testing.T) {
	srv, hits := site(t, map[string]string{"/": `<html><body>nothing here</body></html>`})
	e := New(nil, Options{Scheme: "http", MaxPages: 3}, nil)
	res := e.Process(context.Background(), hostOf(srv))
	assert.Empty(t, res.Error)
	assert.Empty(t, res.TaxID)
	assert.Len(t, *hits, 3)
}

func TestProcess_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := hostOf(srv)
	srv.Close()

	res := New(nil, Options{Scheme: "http"}, nil).Process(context.Background(), host)
	assert.Contains(t, res.Error, "unreachable")
	assert.NotNil(t, res.Emails)
}

func TestRankEmails(t *testing.T) {
	got := rankEmails(map[string]bool{"z@gmail.com": true, "b@acme.ru": true, "a@shop.acme.ru": true}, "acme.ru")
	assert.Equal(t, []string{"a@shop.acme.ru", "b@acme.ru", "z@gmail.com"}, got)
}
