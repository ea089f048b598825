package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/web"
)

// JWTConfig configures JWT authentication
type JWTConfig struct {
	// SecretKey is the HMAC secret for verifying tokens
	SecretKey string

	// ValidMethods is the list of accepted signing algorithms (default: HS256)
	ValidMethods []string

	// Issuer requires a matching `iss` claim when set
	Issuer string

	// Audience requires a matching `aud` claim when set
	Audience []string

	// Leeway allows small clock skew for exp/nbf/iat validation
	Leeway time.Duration

	// ClaimsKey is the request context key the claims are stored under
	ClaimsKey string

	// TokenLookup is "header:<name>" or "query:<name>" (default: header:Authorization)
	TokenLookup string

	// AuthScheme is the authorization scheme (default: Bearer)
	AuthScheme string

	Logger core.Logger

	// OnError is called when authentication fails; default is 401
	OnError func(ctx *web.FastRequestContext, err error) error
}

// DefaultJWTConfig returns a default JWT configuration
func DefaultJWTConfig(secretKey string) JWTConfig {
	return JWTConfig{
		SecretKey:    secretKey,
		ClaimsKey:    "user",
		TokenLookup:  "header:Authorization",
		AuthScheme:   "Bearer",
		ValidMethods: []string{"HS256"},
	}
}

// Validate checks the configuration
func (c JWTConfig) Validate() error {
	if c.SecretKey == "" {
		return &core.Error{Code: core.CodeInvalidConfig, Message: "jwt secret key must be set"}
	}
	if c.TokenLookup != "" {
		source, name, ok := strings.Cut(c.TokenLookup, ":")
		if !ok || name == "" || (source != "header" && source != "query") {
			return &core.Error{Code: core.CodeInvalidConfig, Message: "invalid token lookup " + c.TokenLookup}
		}
	}
	return nil
}

// JWT middleware validates HMAC-signed bearer tokens
func JWT(config JWTConfig) (web.FastMiddleware, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	validMethods := config.ValidMethods
	if len(validMethods) == 0 {
		validMethods = []string{"HS256"}
	}
	lookup := config.TokenLookup
	if lookup == "" {
		lookup = "header:Authorization"
	}
	source, name, _ := strings.Cut(lookup, ":")
	scheme := config.AuthScheme
	if scheme == "" {
		scheme = "Bearer"
	}
	claimsKey := config.ClaimsKey
	if claimsKey == "" {
		claimsKey = "user"
	}
	logger := config.Logger
	if logger == nil {
		logger = core.NopLogger()
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(config.SecretKey), nil
	}

	options := []jwt.ParserOption{jwt.WithValidMethods(validMethods)}
	if config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(config.Leeway))
	}
	if config.Issuer != "" {
		options = append(options, jwt.WithIssuer(config.Issuer))
	}
	if len(config.Audience) > 0 {
		options = append(options, jwt.WithAudience(config.Audience...))
	}
	parser := jwt.NewParser(options...)

	onError := config.OnError
	if onError == nil {
		onError = func(ctx *web.FastRequestContext, err error) error {
			logger.Debug("jwt rejected", "request_id", ctx.RequestID(), "error", err)
			ctx.RequestCtx.Response.Header.Set("WWW-Authenticate",
				fmt.Sprintf(`%s realm="callcenter", error="invalid_token"`, scheme))
			return ctx.JSON(fasthttp.StatusUnauthorized, map[string]string{
				"error":   "unauthorized",
				"message": "invalid or missing token",
			})
		}
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			var raw string
			switch source {
			case "header":
				header := string(ctx.RequestCtx.Request.Header.Peek(name))
				if header == "" {
					return onError(ctx, errors.New("authorization header missing"))
				}
				got, token, ok := strings.Cut(header, " ")
				if !ok || got != scheme || token == "" {
					return onError(ctx, errors.New("invalid authorization header format"))
				}
				raw = token
			case "query":
				raw = ctx.Query(name)
				if raw == "" {
					return onError(ctx, errors.New("token query parameter missing"))
				}
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFunc)
			if err != nil {
				return onError(ctx, fmt.Errorf("invalid token: %w", err))
			}
			if !token.Valid {
				return onError(ctx, errors.New("token is not valid"))
			}

			ctx.Set(claimsKey, claims)
			return next(ctx)
		}
	}, nil
}

// GetClaims extracts JWT claims from request context
func GetClaims(ctx *web.FastRequestContext, key string) (jwt.MapClaims, error) {
	claims, ok := ctx.Get(key).(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not found in context")
	}
	return claims, nil
}

// Subject returns the `sub` claim of the authenticated request
func Subject(ctx *web.FastRequestContext, key string) (string, error) {
	claims, err := GetClaims(ctx, key)
	if err != nil {
		return "", err
	}
	return claims.GetSubject()
}

// JWTTokenGenerator issues HS256 tokens, e.g. for operators calling /update
type JWTTokenGenerator struct {
	secret []byte
	issuer string
}

// NewJWTTokenGenerator creates a token generator
func NewJWTTokenGenerator(secret []byte, issuer string) *JWTTokenGenerator {
	return &JWTTokenGenerator{secret: secret, issuer: issuer}
}

// Generate creates a token for subject valid for expiresIn
func (g *JWTTokenGenerator) Generate(subject string, expiresIn time.Duration) (string, error) {
	if len(g.secret) == 0 {
		return "", &core.Error{Code: core.CodeInvalidConfig, Message: "jwt secret key must be set"}
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    g.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
