package security

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/dpmgo/dpmgo/pkg/status"
)

// Mode is the capability a token grants.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// VerifyOutcome is the result of Verify, matching §4.3's enumerated
// outcomes exactly (OK is the zero value).
type VerifyOutcome int

const (
	OutcomeOK VerifyOutcome = iota
	OutcomeMalformed
	OutcomeInvalid
	OutcomeExpired
	OutcomeWrongMode
	OutcomeInternalError
)

func (o VerifyOutcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeMalformed:
		return "Malformed"
	case OutcomeInvalid:
		return "Invalid"
	case OutcomeExpired:
		return "Expired"
	case OutcomeWrongMode:
		return "WrongMode"
	default:
		return "InternalError"
	}
}

// tokenClaims is the JWT claim set backing a capability token: binds
// (client id, pfn, mode, not-after) under the shared TokenPassword
// secret, per §3 "Token".
type tokenClaims struct {
	jwt.RegisteredClaims
	ID   string `json:"id"`
	PFN  string `json:"pfn"`
	Mode Mode   `json:"mode"`
}

// TokenAuthority mints and verifies capability tokens under a shared
// secret, configured from the TokenPassword/TokenLife directives (§6).
type TokenAuthority struct {
	secret []byte
}

// Token timestamps keep millisecond precision so that sub-second token
// lives expire when they say they do.
func init() { jwt.TimePrecision = time.Millisecond }

func NewTokenAuthority(password string) *TokenAuthority {
	return &TokenAuthority{secret: []byte(password)}
}

// Mint produces an opaque bearer token binding (id, pfn, mode) that
// expires after life. id is either the client DN or IP per the TokenId
// configuration directive (the caller resolves that via Context.ClientID).
func (a *TokenAuthority) Mint(id, pfn string, mode Mode, life time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(life)),
		},
		ID:   id,
		PFN:  pfn,
		Mode: mode,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(a.secret)
}

// Verify re-derives and checks the token against the expected id, pfn
// and mode, returning the exact outcome taxonomy of §4.3.
func (a *TokenAuthority) Verify(token, id, pfn string, mode Mode) VerifyOutcome {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, status.Raisef(status.InternalError, "unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorExpired != 0 {
				return OutcomeExpired
			}
			if ve.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
				return OutcomeInvalid
			}
		}
		return OutcomeMalformed
	}
	if !parsed.Valid {
		return OutcomeInvalid
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return OutcomeExpired
	}
	if claims.ID != id || claims.PFN != pfn {
		return OutcomeInvalid
	}
	if claims.Mode != mode {
		return OutcomeWrongMode
	}
	return OutcomeOK
}
