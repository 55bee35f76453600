package checko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"b2brecon/internal/domain"
)

const DefaultBaseURL = "https://api.checko.ru/v2"

var errKeyRejected = errors.New("api key rejected")

// Client looks up company metadata by tax ID. Several API keys may be
// configured; a key that is rejected or out of quota is rotated out for
// the next request.
type Client struct {
	baseURL string
	keys    []string
	http    *http.Client
	log     *zap.Logger

	mu   sync.Mutex
	next int
}

func New(baseURL string, keys []string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	var clean []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		keys:    clean,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// Configured reports whether at least one API key is present.
func (c *Client) Configured() bool { return len(c.keys) > 0 }

func (c *Client) LookupCompanyMetadata(ctx context.Context, taxID string) (domain.CompanyMetadata, error) {
	taxID = strings.TrimSpace(taxID)
	if taxID == "" {
		return domain.CompanyMetadata{}, domain.Invalid("taxId", "required")
	}
	if !c.Configured() {
		return domain.CompanyMetadata{}, domain.Transport("checko lookup", errors.New("no api keys configured"))
	}

	start := c.current()
	var lastErr error
	for i := 0; i < len(c.keys); i++ {
		idx := (start + i) % len(c.keys)
		meta, err := c.fetch(ctx, c.keys[idx], taxID)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, errKeyRejected) {
			return domain.CompanyMetadata{}, domain.Transport("checko lookup", err)
		}
		c.log.Warn("checko key rejected, rotating", zap.Int("key_index", idx), zap.Error(err))
		c.advance(idx)
		lastErr = err
	}
	return domain.CompanyMetadata{}, domain.Transport("checko lookup", lastErr)
}

func (c *Client) current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *Client) advance(from int) {
	c.mu.Lock()
	if c.next == from {
		c.next = (from + 1) % len(c.keys)
	}
	c.mu.Unlock()
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"meta"`
}

type company struct {
	OGRN     string `json:"ОГРН"`
	KPP      string `json:"КПП"`
	OKPO     string `json:"ОКПО"`
	NameFull string `json:"НаимПолн"`
	Name     string `json:"НаимСокр"`
	RegDate  string `json:"ДатаРег"`
	Status   struct {
		Name string `json:"Наим"`
	} `json:"Статус"`
	Address struct {
		Full string `json:"АдресРФ"`
	} `json:"ЮрАдрес"`
	Capital struct {
		Sum *float64 `json:"Сумма"`
	} `json:"УстКап"`
	Contacts struct {
		Phones  []string `json:"Тел"`
		Emails  []string `json:"Емэйл"`
		Website string   `json:"ВебСайт"`
	} `json:"Контакты"`
}

func (c *Client) fetch(ctx context.Context, key, taxID string) (domain.CompanyMetadata, error) {
	q := url.Values{}
	q.Set("key", key)
	q.Set("inn", taxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/company?"+q.Encode(), nil)
	if err != nil {
		return domain.CompanyMetadata{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.CompanyMetadata{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.CompanyMetadata{}, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests:
		return domain.CompanyMetadata{}, fmt.Errorf("%w: http %d", errKeyRejected, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return domain.CompanyMetadata{}, fmt.Errorf("tax id %s: %w", taxID, domain.ErrNotFound)
	case resp.StatusCode >= 300:
		return domain.CompanyMetadata{}, fmt.Errorf("http %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.CompanyMetadata{}, fmt.Errorf("decode response: %w", err)
	}
	if env.Meta.Status != "" && env.Meta.Status != "ok" {
		msg := strings.ToLower(env.Meta.Message)
		if strings.Contains(msg, "ключ") || strings.Contains(msg, "key") || strings.Contains(msg, "лимит") {
			return domain.CompanyMetadata{}, fmt.Errorf("%w: %s", errKeyRejected, env.Meta.Message)
		}
		return domain.CompanyMetadata{}, fmt.Errorf("checko: %s", env.Meta.Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" || string(env.Data) == "{}" {
		return domain.CompanyMetadata{}, fmt.Errorf("tax id %s: %w", taxID, domain.ErrNotFound)
	}
	var co company
	if err := json.Unmarshal(env.Data, &co); err != nil {
		return domain.CompanyMetadata{}, fmt.Errorf("decode company: %w", err)
	}
	return toMetadata(co), nil
}

func toMetadata(co company) domain.CompanyMetadata {
	name := strings.TrimSpace(co.Name)
	if name == "" {
		name = strings.TrimSpace(co.NameFull)
	}
	m := domain.CompanyMetadata{
		Name:              name,
		OGRN:              co.OGRN,
		KPP:               co.KPP,
		OKPO:              co.OKPO,
		CompanyStatus:     co.Status.Name,
		RegistrationDate:  co.RegDate,
		LegalAddress:      co.Address.Full,
		Website:           co.Contacts.Website,
		Emails:            co.Contacts.Emails,
		AuthorizedCapital: co.Capital.Sum,
	}
	if len(co.Contacts.Phones) > 0 {
		m.Phone = co.Contacts.Phones[0]
	}
	return m
}
