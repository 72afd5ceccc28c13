package lookuptable

import (
	"context"
	"fmt"
	"sync"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Resolver loads the address list of one lookup table.
type Resolver interface {
	ResolveTable(ctx context.Context, addr solana.PublicKey) (solana.PublicKeySlice, error)
}

// Cache memoizes lookup-table resolutions for the lifetime of the process. Entries are
// never invalidated; lookup tables are append-only on chain and extensions only add
// addresses a stale copy does not reference.
type Cache struct {
	resolver Resolver
	entries  sync.Map // solana.PublicKey -> solana.PublicKeySlice
	logger   *logrus.Logger
}

func NewCache(resolver Resolver, logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	return &Cache{resolver: resolver, logger: logger}
}

// Get returns the table's addresses, resolving and storing them on first use. Failed
// resolutions are not stored.
func (c *Cache) Get(ctx context.Context, addr solana.PublicKey) (solana.PublicKeySlice, error) {
	if v, ok := c.entries.Load(addr); ok {
		metrics.LookupTableCache.WithLabelValues("hit").Inc()
		return v.(solana.PublicKeySlice), nil
	}
	metrics.LookupTableCache.WithLabelValues("miss").Inc()

	addrs, err := c.resolver.ResolveTable(ctx, addr)
	if err != nil {
		metrics.LookupTableCache.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve lookup table %s: %w", addr, err)
	}

	// Concurrent misses for the same table converge on whichever landed first.
	actual, _ := c.entries.LoadOrStore(addr, addrs)
	return actual.(solana.PublicKeySlice), nil
}

// Resolve loads every table in addrs concurrently. Tables that fail are left out of
// the returned map and reported in errs; callers compile without them.
func (c *Cache) Resolve(ctx context.Context, addrs []solana.PublicKey) (map[solana.PublicKey]solana.PublicKeySlice, []error) {
	out := make(map[solana.PublicKey]solana.PublicKeySlice, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	seen := make(map[solana.PublicKey]struct{}, len(addrs))
	for _, addr := range addrs {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		addr := addr
		g.Go(func() error {
			table, err := c.Get(ctx, addr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				c.logger.WithField("lut", addr.String()).WithError(err).Warn("dropping unresolved lookup table")
				return nil
			}
			out[addr] = table
			return nil
		})
	}
	_ = g.Wait()

	return out, errs
}

// Len reports how many tables are cached.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
