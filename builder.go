package credguard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/credguard/apikey"
	"github.com/MrEthical07/credguard/audit"
	"github.com/MrEthical07/credguard/internal/rate"
	"github.com/MrEthical07/credguard/jwt"
	"github.com/MrEthical07/credguard/jwt/keysource"
	"github.com/MrEthical07/credguard/lockout"
	"github.com/MrEthical07/credguard/password"
	"github.com/MrEthical07/credguard/pgstore"
	"github.com/MrEthical07/credguard/refresh"
	"github.com/MrEthical07/credguard/revocation"
	"github.com/MrEthical07/credguard/token"
)

// Builder assembles an Engine. Backends are picked per component from
// what was supplied:
//
//	component          WithDB       WithRedis   neither
//	refresh families   Postgres     Redis       memory
//	lockout state      Postgres     Redis       memory
//	api keys           Postgres     memory      memory
//	password records   Postgres     memory      memory
//	blacklist/replay   Redis        Redis       memory
//	rate limiting      Redis        Redis       memory
//
// Memory backends are per process; multi-instance deployments need Redis
// or Postgres.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *sql.DB
	log    logrus.FieldLogger

	userProvider  UserProvider
	passwordStore password.RecordStore
	keyring       *jwt.Keyring
	httpClient    *http.Client

	auditSink  audit.Sink
	sentryHub  *sentry.Hub
	amqpPub    audit.Publisher
	amqpConfig audit.AMQPConfig

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB selects the Postgres adapters. Migrations are not run; call
// pgstore.RunMigrations during deployment.
func (b *Builder) WithDB(db *sql.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithPasswordStore overrides the password record backend.
func (b *Builder) WithPasswordStore(store password.RecordStore) *Builder {
	b.passwordStore = store
	return b
}

// WithKeyring supplies a ready keyring, taking precedence over any key
// material in the config.
func (b *Builder) WithKeyring(ring *jwt.Keyring) *Builder {
	b.keyring = ring
	return b
}

// WithHTTPClient sets the client used by the breach checker.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithSentry forwards events at or above Audit.SentryMinSeverity to hub.
func (b *Builder) WithSentry(hub *sentry.Hub) *Builder {
	b.sentryHub = hub
	return b
}

// WithAMQP publishes every audit event to a RabbitMQ exchange.
func (b *Builder) WithAMQP(pub audit.Publisher, cfg audit.AMQPConfig) *Builder {
	b.amqpPub = pub
	b.amqpConfig = cfg
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder
// can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.validate(b.keyring != nil); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	log := b.log
	if log == nil {
		log = logrus.StandardLogger()
	}

	engine := &Engine{
		config:  cfg,
		log:     log.WithField("component", "engine"),
		users:   b.userProvider,
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}

	// -------- AUDIT --------
	var sinks audit.MultiSink
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	if cfg.Audit.LogEvents {
		sinks = append(sinks, audit.NewLogrusSink(log))
	}
	if b.sentryHub != nil {
		sinks = append(sinks, audit.NewSentrySink(b.sentryHub, cfg.Audit.SentryMinSeverity))
	}
	if b.amqpPub != nil {
		sinks = append(sinks, audit.NewAMQPSink(b.amqpPub, b.amqpConfig, log))
	}
	if d := audit.NewDispatcher(audit.Config{
		Enabled:          cfg.Audit.Enabled,
		BufferSize:       cfg.Audit.BufferSize,
		UrgentBufferSize: cfg.Audit.UrgentBufferSize,
		DropIfFull:       cfg.Audit.DropIfFull,
	}, sinks); d != nil {
		engine.audit = d
		engine.sink = d
	}

	// -------- PASSWORDS --------
	hasher, err := buildHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	policy, err := password.NewPolicy(password.PolicyConfig{
		MinLength:      cfg.Password.MinLength,
		MaxLength:      cfg.Password.MaxLength,
		RequireUpper:   cfg.Password.RequireUpper,
		RequireLower:   cfg.Password.RequireLower,
		RequireDigit:   cfg.Password.RequireDigit,
		RequireSpecial: cfg.Password.RequireSpecial,
		RejectCommon:   cfg.Password.RejectCommon,
		SequentialRun:  cfg.Password.SequentialRun,
		RepeatRun:      cfg.Password.RepeatRun,
	})
	if err != nil {
		return nil, err
	}
	engine.policy = policy

	if cfg.Breach.Enabled {
		engine.breach = password.NewBreachChecker(password.BreachConfig{
			Endpoint:       cfg.Breach.Endpoint,
			Timeout:        cfg.Breach.Timeout,
			FailOpen:       cfg.Breach.FailOpen,
			CacheSize:      cfg.Breach.CacheSize,
			CacheTTL:       cfg.Breach.CacheTTL,
			MinOccurrences: cfg.Breach.MinOccurrences,
		}, b.httpClient, log)
	}

	switch {
	case b.passwordStore != nil:
		engine.passwords = b.passwordStore
	case b.db != nil:
		engine.passwords = pgstore.NewPasswordRecordStore(b.db)
	default:
		engine.passwords = password.NewMemoryRecordStore()
	}

	// -------- LOCKOUT --------
	var lockoutStore lockout.Store
	switch {
	case b.db != nil:
		lockoutStore = pgstore.NewLockoutStore(b.db)
	case b.redis != nil:
		lockoutStore = lockout.NewRedisStore(b.redis)
	default:
		lockoutStore = lockout.NewMemoryStore()
	}
	engine.lockout, err = lockout.NewTracker(lockout.Config{
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
		Duration:  cfg.Lockout.Duration,
	}, lockoutStore, engine.sink)
	if err != nil {
		return nil, err
	}

	// -------- ACCESS TOKENS --------
	ring := b.keyring
	if ring == nil {
		if ring, err = buildKeyring(cfg.JWT); err != nil {
			return nil, err
		}
	}
	engine.keyring = ring

	signer, err := jwt.NewManager(jwt.Config{
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	}, ring)
	if err != nil {
		return nil, err
	}

	deps := token.Deps{Signer: signer, Sink: engine.sink}
	if cfg.JWT.EncryptTokens {
		if deps.Encrypter, err = jwt.NewEncrypter(cfg.JWT.EncryptionKey); err != nil {
			return nil, err
		}
	}
	if cfg.Revocation.EnableBlacklist {
		deps.Blacklist = revocation.NewBlacklist(newRevocationSet(b.redis, revocation.BlacklistPrefix))
	}
	if cfg.Revocation.ReplayWindow > 0 {
		deps.Replay = revocation.NewReplayWindow(newRevocationSet(b.redis, revocation.ReplayPrefix), cfg.Revocation.ReplayWindow)
	}
	engine.tokens, err = token.NewService(token.Config{
		AccessTTL:       cfg.JWT.AccessTTL,
		ClockSkew:       cfg.JWT.ClockSkew,
		EnableBlacklist: cfg.Revocation.EnableBlacklist,
		ReplayWindow:    cfg.Revocation.ReplayWindow,
		BindingDuration: cfg.Binding.Duration,
	}, deps)
	if err != nil {
		return nil, err
	}

	// -------- REFRESH --------
	var refreshStore refresh.Store
	switch {
	case b.db != nil:
		refreshStore = pgstore.NewRefreshStore(b.db)
	case b.redis != nil:
		refreshStore = refresh.NewRedisStore(b.redis)
	default:
		refreshStore = refresh.NewMemoryStore()
	}
	var revoker refresh.AccessRevoker
	if cfg.Revocation.EnableBlacklist {
		revoker = engine.tokens
	}
	engine.refresh, err = refresh.NewManager(refresh.Config{
		TTL:           cfg.Refresh.TTL,
		MaxFamilySize: cfg.Refresh.MaxFamilySize,
	}, refreshStore, revoker, engine.sink)
	if err != nil {
		return nil, err
	}

	// -------- API KEYS --------
	var keyStore apikey.Store = apikey.NewMemoryStore()
	if b.db != nil {
		keyStore = pgstore.NewAPIKeyStore(b.db)
	}
	var limiter rate.Limiter
	if cfg.RateLimit.Requests > 0 {
		rc := rate.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			Burst:    cfg.RateLimit.Burst,
			Buckets:  cfg.RateLimit.Buckets,
		}
		if b.redis != nil {
			limiter, err = rate.NewRedis(b.redis, rc)
		} else {
			var mem *rate.Memory
			mem, err = rate.NewMemory(rc)
			engine.rateMemory = mem
			limiter = mem
		}
		if err != nil {
			return nil, err
		}
	}
	engine.apiKeys, err = apikey.NewManager(apikey.Config{
		Prefix:         cfg.APIKey.Prefix,
		DefaultExpiry:  cfg.APIKey.DefaultExpiry,
		GracePeriod:    cfg.APIKey.GracePeriod,
		PerIPRateLimit: cfg.APIKey.PerIPRateLimit,
	}, keyStore, limiter, engine.sink, log)
	if err != nil {
		return nil, err
	}

	// -------- KEYRING RELOAD --------
	if cfg.JWT.WatchKeyring && b.keyring == nil {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopWatch = cancel
		go func() {
			if err := keysource.Watch(ctx, cfg.JWT.KeyringFile, ring, log, nil); err != nil {
				log.WithError(err).Warn("credguard: keyring watcher stopped")
			}
		}()
	}

	b.built = true
	return engine, nil
}

func buildHasher(cfg PasswordConfig) (*password.MultiHasher, error) {
	argon, err := password.NewArgon2(password.Argon2Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	cost := cfg.BcryptCost
	if cost < password.MinBcryptCost {
		cost = password.MinBcryptCost
	}
	bc, err := password.NewBcrypt(cost)
	if err != nil {
		return nil, err
	}
	if cfg.Algorithm == "bcrypt" {
		return password.NewBcryptMultiHasher(bc, argon), nil
	}
	return password.NewMultiHasher(argon, bc), nil
}

func buildKeyring(cfg JWTConfig) (*jwt.Keyring, error) {
	if cfg.KeyringFile != "" {
		ring, err := keysource.LoadKeyring(cfg.KeyringFile)
		if err != nil {
			return nil, fmt.Errorf("load keyring: %w", err)
		}
		return ring, nil
	}
	key := jwt.Key{
		ID:         cfg.KeyID,
		Method:     jwt.SigningMethod(strings.ToLower(cfg.SigningMethod)),
		Secret:     cloneBytes(cfg.Secret),
		PrivateKey: cloneBytes(cfg.PrivateKey),
		PublicKey:  cloneBytes(cfg.PublicKey),
	}
	if key.ID == "" {
		key.ID = "default"
	}
	return jwt.NewKeyring(key.ID, key)
}

func newRevocationSet(client redis.UniversalClient, prefix string) revocation.Set {
	if client != nil {
		return revocation.NewRedisSet(client, prefix)
	}
	return revocation.NewMemorySet()
}
