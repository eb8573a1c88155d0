package refresh

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes. Each token is a hash under crt:<id>. crf:<family> is the set
// of token ids in a family, and cra:<family> maps access jti to expiry ms.
const (
	tokenPrefix  = "crt:"
	familyPrefix = "crf:"
	accessPrefix = "cra:"
)

const (
	rotateNotFound = 0
	rotateUsed     = 1
	rotateOK       = 2
)

// KEYS: old token, next token, family set.
// ARGV: next id, family, generation, subject, iat ms, exp ms, secret hash,
// auth methods.
var rotateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
if redis.call("HGET", KEYS[1], "used") == "1" then
	return 1
end
redis.call("HSET", KEYS[1], "used", "1", "sup", ARGV[1])
redis.call("HSET", KEYS[2],
	"fam", ARGV[2], "gen", ARGV[3], "sub", ARGV[4],
	"iat", ARGV[5], "exp", ARGV[6], "sh", ARGV[7], "amr", ARGV[8],
	"used", "0", "sup", "", "rev", "0")
local ttl = tonumber(ARGV[6]) - tonumber(ARGV[5])
redis.call("PEXPIRE", KEYS[2], ttl)
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("PEXPIRE", KEYS[3], ttl)
return 2
`)

// KEYS[1]: family set. ARGV[1]: token key prefix.
var burnFamilyScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, id in ipairs(ids) do
	local key = ARGV[1] .. id
	if redis.call("EXISTS", key) == 1 then
		redis.call("HSET", key, "used", "1", "rev", "1")
		n = n + 1
	end
end
return n
`)

var burnScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "used", "1", "rev", "1")
return 1
`)

// RedisStore keeps refresh tokens in Redis. Rotation runs as one Lua script
// so the used-flag swap and the successor insert cannot be split. Records
// carry TTLs equal to their expiry and Redis removes them on its own.
type RedisStore struct {
	redis redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: client}
}

func (r *RedisStore) Create(ctx context.Context, tok *Token) error {
	ttl := tok.ExpiresAt.Sub(tok.IssuedAt)
	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, tokenPrefix+tok.ID, tokenFields(tok)...)
	pipe.PExpire(ctx, tokenPrefix+tok.ID, ttl)
	pipe.SAdd(ctx, familyPrefix+tok.FamilyID, tok.ID)
	pipe.PExpire(ctx, familyPrefix+tok.FamilyID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Token, error) {
	vals, err := r.redis.HGetAll(ctx, tokenPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return decodeToken(id, vals)
}

func (r *RedisStore) Rotate(ctx context.Context, oldID string, next *Token) error {
	code, err := rotateScript.Run(ctx, r.redis,
		[]string{tokenPrefix + oldID, tokenPrefix + next.ID, familyPrefix + next.FamilyID},
		next.ID,
		next.FamilyID,
		next.Generation,
		next.SubjectID,
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		hex.EncodeToString(next.SecretHash[:]),
		strings.Join(next.AuthMethods, ","),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch code {
	case rotateOK:
		return nil
	case rotateUsed:
		return ErrAlreadyUsed
	case rotateNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: unexpected rotate status %d", ErrUnavailable, code)
	}
}

func (r *RedisStore) Burn(ctx context.Context, id string) error {
	n, err := burnScript.Run(ctx, r.redis, []string{tokenPrefix + id}).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) BurnFamily(ctx context.Context, familyID string) (int, error) {
	n, err := burnFamilyScript.Run(ctx, r.redis, []string{familyPrefix + familyID}, tokenPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (r *RedisStore) TrackAccess(ctx context.Context, familyID string, ref AccessRef, now time.Time) error {
	ttl := ref.ExpiresAt.Sub(now)
	if ttl < time.Millisecond {
		return nil
	}
	key := accessPrefix + familyID
	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, key, ref.JTI, ref.ExpiresAt.UnixMilli())
	// Access tokens are tracked in issuance order, so the newest expiry is
	// also the latest.
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) AccessTokens(ctx context.Context, familyID string) ([]AccessRef, error) {
	vals, err := r.redis.HGetAll(ctx, accessPrefix+familyID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	refs := make([]AccessRef, 0, len(vals))
	for jti, raw := range vals {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		refs = append(refs, AccessRef{JTI: jti, ExpiresAt: time.UnixMilli(ms)})
	}
	return refs, nil
}

// CleanupExpired is a no-op: Redis expires records itself.
func (r *RedisStore) CleanupExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func tokenFields(tok *Token) []any {
	return []any{
		"fam", tok.FamilyID,
		"gen", tok.Generation,
		"sub", tok.SubjectID,
		"iat", tok.IssuedAt.UnixMilli(),
		"exp", tok.ExpiresAt.UnixMilli(),
		"sh", hex.EncodeToString(tok.SecretHash[:]),
		"amr", strings.Join(tok.AuthMethods, ","),
		"used", boolFlag(tok.Used),
		"sup", tok.SupersededBy,
		"rev", boolFlag(tok.Revoked),
	}
}

func decodeToken(id string, vals map[string]string) (*Token, error) {
	gen, err := strconv.Atoi(vals["gen"])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt generation", ErrUnavailable)
	}
	iat, err := strconv.ParseInt(vals["iat"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt issued-at", ErrUnavailable)
	}
	exp, err := strconv.ParseInt(vals["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expiry", ErrUnavailable)
	}
	hash, err := hex.DecodeString(vals["sh"])
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("%w: corrupt secret hash", ErrUnavailable)
	}

	tok := &Token{
		ID:           id,
		FamilyID:     vals["fam"],
		Generation:   gen,
		SubjectID:    vals["sub"],
		IssuedAt:     time.UnixMilli(iat),
		ExpiresAt:    time.UnixMilli(exp),
		Used:         vals["used"] == "1",
		SupersededBy: vals["sup"],
		Revoked:      vals["rev"] == "1",
	}
	if amr := vals["amr"]; amr != "" {
		tok.AuthMethods = strings.Split(amr, ",")
	}
	copy(tok.SecretHash[:], hash)
	return tok, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
