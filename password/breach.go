package password

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultBreachEndpoint is the public k-anonymity range endpoint.
const DefaultBreachEndpoint = "https://api.pwnedpasswords.com/range/"

const breachPrefixLen = 5

// ErrBreachUnavailable is returned by a fail-closed checker when the range
// service cannot be reached or answers with an error.
var ErrBreachUnavailable = errors.New("breach service unavailable")

// BreachConfig configures [BreachChecker].
type BreachConfig struct {
	Endpoint string
	Timeout  time.Duration
	// FailOpen treats an unreachable service as "not breached" and logs a
	// warning. When false the checker returns ErrBreachUnavailable.
	FailOpen  bool
	CacheSize int
	CacheTTL  time.Duration
	// MinOccurrences ignores suffixes seen fewer times than this. Zero and one
	// both mean any occurrence counts.
	MinOccurrences int
	UserAgent      string
}

// BreachChecker looks passwords up in a breach corpus without sending the
// password or its full digest anywhere.
type BreachChecker struct {
	config BreachConfig
	client *http.Client
	log    logrus.FieldLogger
	group  singleflight.Group
	cache  *expirable.LRU[string, map[string]int]
}

// NewBreachChecker builds a checker. A nil client gets a default one; the
// per-request deadline always comes from cfg.Timeout.
func NewBreachChecker(cfg BreachConfig, client *http.Client, log logrus.FieldLogger) *BreachChecker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultBreachEndpoint
	}
	if !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "credguard-breach-check"
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &BreachChecker{
		config: cfg,
		client: client,
		log:    log.WithField("component", "breach"),
		cache:  expirable.NewLRU[string, map[string]int](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Check reports whether password appears in the breach corpus.
func (c *BreachChecker) Check(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:breachPrefixLen], digest[breachPrefixLen:]

	suffixes, err := c.lookup(ctx, prefix)
	if err != nil {
		if c.config.FailOpen {
			c.log.WithError(err).Warn("breach lookup failed, continuing in degraded mode")
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrBreachUnavailable, err)
	}

	count, ok := suffixes[suffix]
	if !ok {
		return false, nil
	}
	return count >= c.config.MinOccurrences, nil
}

func (c *BreachChecker) lookup(ctx context.Context, prefix string) (map[string]int, error) {
	if cached, ok := c.cache.Get(prefix); ok {
		return cached, nil
	}

	ch := c.group.DoChan(prefix, func() (any, error) {
		// The shared fetch outlives any single caller's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		defer cancel()

		suffixes, err := c.fetch(fetchCtx, prefix)
		if err != nil {
			return nil, err
		}
		c.cache.Add(prefix, suffixes)
		return suffixes, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]int), nil
	}
}

func (c *BreachChecker) fetch(ctx context.Context, prefix string) (map[string]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+prefix, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("range endpoint returned status %d", resp.StatusCode)
	}

	suffixes := make(map[string]int, 1024)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		suffix, countStr, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		var count int
		if _, err := fmt.Sscanf(countStr, "%d", &count); err != nil {
			continue
		}
		// Padding rows carry a zero count.
		if count <= 0 {
			continue
		}
		suffixes[strings.ToUpper(suffix)] = count
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return suffixes, nil
}
