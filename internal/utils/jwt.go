package utils // package utils provides helper functions for token creation and hashing

import (
    "crypto/rand"   // secure random number generation for token ids
    "crypto/sha256" // SHA‑256 hashing for refresh tokens at rest
    "encoding/base64"
    "encoding/hex" // hex encoding for stored token hashes
    "errors"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// Token kinds carried in the "kind" claim.  Access tokens are short‑lived
// and verified purely by signature and expiry; refresh tokens are
// additionally checked against the persisted hash table so they can be
// revoked before their natural expiry.
const (
    TokenKindAccess  = "access"
    TokenKindRefresh = "refresh"
)

// Sentinel errors returned by VerifyToken.  Callers should match them with
// errors.Is and collapse all of them to a single generic response so the
// client cannot tell which check failed.
var (
    ErrTokenInvalid      = errors.New("token invalid")
    ErrTokenExpired      = errors.New("token expired")
    ErrTokenKindMismatch = errors.New("token kind mismatch")
)

// TokenClaims is the decoded claim set of an issued token.
type TokenClaims struct {
    UserID    uint64    // subject user id ("sub")
    Role      string    // role claim
    Kind      string    // access | refresh
    ID        string    // unique random token id ("jti")
    IssuedAt  time.Time // "iat", UTC
    ExpiresAt time.Time // "exp", UTC
}

// IssueToken builds and signs an HS256 JWT for a user.  The claim set
// carries the subject id as a decimal string, the role, the token kind, a
// cryptographically random jti, and iat/exp timestamps derived from the
// provided TTL.
func IssueToken(secret string, userID uint64, role, kind string, ttl time.Duration) (string, TokenClaims, error) {
    jti, err := randomURLSafe(24)
    if err != nil {
        return "", TokenClaims{}, err
    }
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub":  strconv.FormatUint(userID, 10),
        "role": role,
        "kind": kind,
        "jti":  jti,
        "iat":  now.Unix(),
        "exp":  exp.Unix(),
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return "", TokenClaims{}, err
    }
    return signed, TokenClaims{
        UserID:    userID,
        Role:      role,
        Kind:      kind,
        ID:        jti,
        IssuedAt:  now,
        ExpiresAt: exp,
    }, nil
}

// VerifyToken parses and validates a signed token.  It returns
// ErrTokenExpired when the token is past its expiry, ErrTokenKindMismatch
// when the kind claim is present but not the expected one, and
// ErrTokenInvalid for every other defect: bad signature, wrong signing
// method, or a missing required claim (sub, kind, exp).
func VerifyToken(secret, raw, expectedKind string) (TokenClaims, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        // Reject tokens signed with anything but HMAC; the library would
        // otherwise accept a token that names a different algorithm.
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, ErrTokenInvalid
        }
        return []byte(secret), nil
    })
    if err != nil {
        if errors.Is(err, jwt.ErrTokenExpired) {
            return TokenClaims{}, ErrTokenExpired
        }
        return TokenClaims{}, ErrTokenInvalid
    }
    if !tok.Valid {
        return TokenClaims{}, ErrTokenInvalid
    }
    mc, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return TokenClaims{}, ErrTokenInvalid
    }

    var out TokenClaims

    // Subject may arrive as a decimal string (how we issue it) or as a
    // JSON number when minted by an older client.
    switch sub := mc["sub"].(type) {
    case string:
        id, perr := strconv.ParseUint(sub, 10, 64)
        if perr != nil {
            return TokenClaims{}, ErrTokenInvalid
        }
        out.UserID = id
    case float64:
        out.UserID = uint64(sub)
    default:
        return TokenClaims{}, ErrTokenInvalid
    }

    kind, ok := mc["kind"].(string)
    if !ok || kind == "" {
        return TokenClaims{}, ErrTokenInvalid
    }
    out.Kind = kind
    if expectedKind != "" && kind != expectedKind {
        return TokenClaims{}, ErrTokenKindMismatch
    }

    // exp is validated by the parser when present, but absence passes, so
    // require it explicitly.
    exp, ok := mc["exp"].(float64)
    if !ok {
        return TokenClaims{}, ErrTokenInvalid
    }
    out.ExpiresAt = time.Unix(int64(exp), 0).UTC()

    if role, ok := mc["role"].(string); ok {
        out.Role = role
    }
    if jti, ok := mc["jti"].(string); ok {
        out.ID = jti
    }
    if iat, ok := mc["iat"].(float64); ok {
        out.IssuedAt = time.Unix(int64(iat), 0).UTC()
    }
    return out, nil
}

// HashToken returns the SHA‑256 hash of a raw token as a hex string.  Only
// the hash of a refresh token is persisted, so a stolen database row is not
// enough to mint a session.
func HashToken(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}

// randomURLSafe returns a URL‑safe string generated from n bytes of
// cryptographically secure random data.
func randomURLSafe(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return base64.RawURLEncoding.EncodeToString(buf), nil
}
