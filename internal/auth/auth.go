// Package auth issues and verifies player bearer tokens (HS256 JWT).
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/victornm/triviapot/internal/errors"
)

const (
	defaultIssuer = "triviapot"
	defaultTTL    = 24 * time.Hour
)

type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// Claims identify a player. The subject is the player id.
type Claims struct {
	Wallet string `json:"wallet,omitempty"`
	jwt.RegisteredClaims
}

// Player is the authenticated caller.
type Player struct {
	ID     string
	Wallet string
}

type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func New(c Config) (*Authenticator, error) {
	if c.Secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}

	a := &Authenticator{
		secret: []byte(c.Secret),
		issuer: c.Issuer,
		ttl:    c.TTL,
		now:    c.Now,
	}

	if a.issuer == "" {
		a.issuer = defaultIssuer
	}
	if a.ttl <= 0 {
		a.ttl = defaultTTL
	}
	if a.now == nil {
		a.now = time.Now
	}

	return a, nil
}

// Issue signs a token for the player.
func (a *Authenticator) Issue(p Player) (string, error) {
	if p.ID == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player id is required"))
	}

	now := a.now()
	claims := Claims{
		Wallet: p.Wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}

	return s, nil
}

// Verify parses a token. Any failure is reported as Unauthenticated.
func (a *Authenticator) Verify(token string) (Player, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Player{}, unauthenticated("invalid token", err)
	}
	if claims.Subject == "" {
		return Player{}, unauthenticated("token has no subject", nil)
	}

	return Player{ID: claims.Subject, Wallet: claims.Wallet}, nil
}

func unauthenticated(msg string, cause error) *errors.Error {
	return errors.New(errors.CodeUnauthenticated, errors.WithMessagef("%s", msg), errors.WithCause(cause))
}

var errMissingToken = unauthenticated("bearer token required", nil)

type ctxKey struct{}

func WithPlayer(ctx context.Context, p Player) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Player, bool) {
	p, ok := ctx.Value(ctxKey{}).(Player)
	return p, ok
}

// bearer extracts the token from an "Authorization: Bearer <token>" value.
func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}

	return token, true
}

// Middleware authenticates gin requests. The token is read from the Authorization header, or from the
// token query parameter for websocket upgrades which cannot set headers in browsers.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearer(c.GetHeader("Authorization"))
		if !ok {
			token = c.Query("token")
		}
		if token == "" {
			abort(c, errMissingToken)
			return
		}

		p, err := a.Verify(token)
		if err != nil {
			abort(c, errors.Convert(err))
			return
		}

		c.Request = c.Request.WithContext(WithPlayer(c.Request.Context(), p))
		c.Next()
	}
}

func abort(c *gin.Context, e *errors.Error) {
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

// UnaryServerInterceptor authenticates gRPC calls from the "authorization" metadata.
// Methods listed in public are served without a token.
func (a *Authenticator) UnaryServerInterceptor(public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]struct{}, len(public))
	for _, m := range public {
		skip[m] = struct{}{}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		for _, v := range md.Get("authorization") {
			if t, ok := bearer(v); ok {
				token = t
				break
			}
		}
		if token == "" {
			return nil, errMissingToken
		}

		p, err := a.Verify(token)
		if err != nil {
			return nil, err
		}

		return handler(WithPlayer(ctx, p), req)
	}
}

// PerRPCCredentials attaches a bearer token to outgoing gRPC calls.
type PerRPCCredentials struct {
	Token    string
	Insecure bool
}

func (c PerRPCCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	if c.Token == "" {
		return nil, stderrors.New("auth: empty token")
	}

	return map[string]string{"authorization": "Bearer " + c.Token}, nil
}

func (c PerRPCCredentials) RequireTransportSecurity() bool {
	return !c.Insecure
}
