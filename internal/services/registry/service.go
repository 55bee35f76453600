package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"b2brecon/internal/domain"
	"b2brecon/internal/normalize"
	"b2brecon/internal/ports"
)

const DefaultPageSize = 500

// Index maps normalized root domains to registry entries.
type Index struct {
	suppliers map[string]domain.Supplier
	blacklist map[string]domain.BlacklistEntry
}

func NewIndex(suppliers []domain.Supplier, blacklist []domain.BlacklistEntry) *Index {
	idx := &Index{
		suppliers: make(map[string]domain.Supplier, len(suppliers)),
		blacklist: make(map[string]domain.BlacklistEntry, len(blacklist)),
	}
	for _, s := range suppliers {
		idx.AddSupplier(s)
	}
	for _, b := range blacklist {
		if key := normalize.ExtractRootDomain(b.Domain); key != "" {
			idx.blacklist[key] = b
		}
	}
	return idx
}

// AddSupplier makes s visible to later lookups. The first entry for a root
// domain wins.
func (i *Index) AddSupplier(s domain.Supplier) {
	key := normalize.ExtractRootDomain(s.Domain)
	if key == "" {
		return
	}
	if _, ok := i.suppliers[key]; !ok {
		i.suppliers[key] = s
	}
}

func (i *Index) Supplier(name string) (domain.Supplier, bool) {
	s, ok := i.suppliers[normalize.ExtractRootDomain(name)]
	return s, ok
}

func (i *Index) Blacklisted(name string) bool {
	_, ok := i.blacklist[normalize.ExtractRootDomain(name)]
	return ok
}

// Classify annotates records against the registry. Blacklisted domains are
// dropped unless keepBlacklisted is set, in which case they are kept with
// StatusBlacklisted.
func Classify(records []domain.DomainRecord, idx *Index, keepBlacklisted bool) []domain.DomainRecord {
	out := make([]domain.DomainRecord, 0, len(records))
	for _, rec := range records {
		if idx.Blacklisted(rec.Domain) {
			if keepBlacklisted {
				rec.RegistryStatus = domain.StatusBlacklisted
				rec.SupplierID = nil
				out = append(out, rec)
			}
			continue
		}
		if s, ok := idx.Supplier(rec.Domain); ok {
			rec.RegistryStatus = statusFor(s.Type)
			id := s.ID
			rec.SupplierID = &id
		} else {
			rec.RegistryStatus = domain.StatusUnclassified
			rec.SupplierID = nil
		}
		out = append(out, rec)
	}
	return out
}

func statusFor(t domain.SupplierType) domain.RegistryStatus {
	if t == domain.SupplierTypeReseller {
		return domain.StatusReseller
	}
	return domain.StatusSupplier
}

// Loader pages through the registry collections.
type Loader struct {
	reg      ports.SupplierRegistry
	pageSize int
}

func NewLoader(reg ports.SupplierRegistry, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{reg: reg, pageSize: pageSize}
}

// Suppliers reads the full supplier list straight from the registry.
func (l *Loader) Suppliers(ctx context.Context) ([]domain.Supplier, error) {
	var all []domain.Supplier
	for offset := 0; ; {
		page, total, err := l.reg.ListSuppliers(ctx, l.pageSize, offset)
		if err != nil {
			return nil, domain.Transport("list suppliers", err)
		}
		all = append(all, page...)
		offset += len(page)
		if len(page) == 0 || offset >= total {
			return all, nil
		}
	}
}

func (l *Loader) Blacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	var all []domain.BlacklistEntry
	for offset := 0; ; {
		page, total, err := l.reg.ListBlacklist(ctx, l.pageSize, offset)
		if err != nil {
			return nil, domain.Transport("list blacklist", err)
		}
		all = append(all, page...)
		offset += len(page)
		if len(page) == 0 || offset >= total {
			return all, nil
		}
	}
}

// Cache holds a TTL snapshot of the supplier list for read paths. Writers
// must bypass it and call Invalidate after mutating the registry.
type Cache struct {
	loader *Loader
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	items    []domain.Supplier
	loadedAt time.Time
	valid    bool
}

func NewCache(loader *Loader, ttl time.Duration) *Cache {
	return &Cache{loader: loader, ttl: ttl, now: time.Now}
}

func (c *Cache) Suppliers(ctx context.Context) ([]domain.Supplier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		return c.items, nil
	}
	items, err := c.loader.Suppliers(ctx)
	if err != nil {
		return nil, err
	}
	c.items, c.loadedAt, c.valid = items, c.now(), true
	return items, nil
}

// Index combines the cached supplier snapshot with a fresh blacklist read.
func (c *Cache) Index(ctx context.Context) (*Index, error) {
	suppliers, err := c.Suppliers(ctx)
	if err != nil {
		return nil, err
	}
	blacklist, err := c.loader.Blacklist(ctx)
	if err != nil {
		return nil, err
	}
	return NewIndex(suppliers, blacklist), nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.items = nil
	c.mu.Unlock()
}

// Blacklister stores operator blacklist entries keyed by root domain.
type Blacklister struct {
	reg ports.SupplierRegistry
	log *zap.Logger
	now func() time.Time
}

func NewBlacklister(reg ports.SupplierRegistry, log *zap.Logger) *Blacklister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Blacklister{reg: reg, log: log, now: time.Now}
}

func (b *Blacklister) Add(ctx context.Context, entry domain.BlacklistEntry) (domain.BlacklistEntry, error) {
	root := normalize.ExtractRootDomain(entry.Domain)
	if root == "" {
		return domain.BlacklistEntry{}, domain.Invalid("domain", "required")
	}
	entry.Domain = root
	entry.Reason = strings.TrimSpace(entry.Reason)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = b.now().UTC()
	}
	if err := b.reg.AddToBlacklist(ctx, entry); err != nil {
		return domain.BlacklistEntry{}, domain.Transport("add to blacklist", err)
	}
	b.log.Info("domain blacklisted", zap.String("domain", root), zap.String("run_id", entry.RunID))
	return entry, nil
}
