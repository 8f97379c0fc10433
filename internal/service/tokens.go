package service

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/apperr"
	"github.com/solderstack/gatehouse/internal/model"
)

// DefaultAccessTTL is the access-token lifetime when none is configured.
const DefaultAccessTTL = time.Hour

// IdentityBroker mints a supplementary federated identity token for a
// local account. A nil broker disables the integration.
type IdentityBroker interface {
	TokenForIdentity(ctx context.Context, acc model.Account) (identityID, identityToken string, err error)
}

// TokenService issues and verifies the stateless bearer tokens. Tokens
// are never stored; validity is signature plus embedded claims, so
// revocation is expiry-only.
type TokenService struct {
	key       []byte
	accessTTL time.Duration
	broker    IdentityBroker
	log       *zap.Logger
}

func NewTokenService(secret string, accessTTL time.Duration, broker IdentityBroker, log *zap.Logger) *TokenService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenService{key: []byte(secret), accessTTL: accessTTL, broker: broker, log: log}
}

// Create issues an access/refresh pair for the account. The access
// token's scope is the account's roles plus "accesstoken"; the refresh
// token carries only "refreshtoken" and no expiry. When an identity
// broker is configured its token is merged in best-effort: a broker
// failure never fails the issuance.
func (s *TokenService) Create(ctx context.Context, acc model.Account) (model.TokenBundle, error) {
	now := time.Now().UTC()

	scope := make([]string, 0, len(acc.Roles)+1)
	scope = append(scope, acc.Roles...)
	if !acc.HasRole(model.ScopeAccessToken) {
		scope = append(scope, model.ScopeAccessToken)
	}

	access, err := s.sign(jwt.MapClaims{
		"sub":   acc.ID,
		"name":  acc.Name,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return model.TokenBundle{}, err
	}

	// Decode our own token so the advertised expiry always matches the
	// claim that will be enforced.
	decoded, err := s.Verify(access)
	if err != nil {
		return model.TokenBundle{}, err
	}

	refresh, err := s.sign(jwt.MapClaims{
		"sub":   acc.ID,
		"scope": []string{model.ScopeRefreshToken},
		"iat":   now.Unix(),
	})
	if err != nil {
		return model.TokenBundle{}, err
	}

	bundle := model.TokenBundle{
		AccountID:    acc.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		Type:         "Bearer",
		Expires:      decoded.ExpiresAt.UnixMilli(),
	}

	if s.broker != nil {
		identityID, identityToken, err := s.broker.TokenForIdentity(ctx, acc)
		if err != nil {
			s.log.Info("identity token creation failed",
				zap.String("account_id", acc.ID), zap.Error(err))
		} else {
			bundle.IdentityID = identityID
			bundle.IdentityToken = identityToken
		}
	}
	return bundle, nil
}

// Verify checks signature and expiry and returns the decoded claims.
// Any malformed, tampered or expired token yields an Unauthorized error.
func (s *TokenService) Verify(token string) (model.TokenClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Unauthorized("unexpected signing method")
		}
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return model.TokenClaims{}, apperr.Wrap(apperr.KindUnauthorized, "invalid token", err)
	}
	raw, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return model.TokenClaims{}, apperr.Unauthorized("invalid token claims")
	}

	claims := model.TokenClaims{}
	if sub, ok := raw["sub"].(string); ok {
		claims.AccountID = sub
	}
	if name, ok := raw["name"].(string); ok {
		claims.Name = name
	}
	if scopes, ok := raw["scope"].([]any); ok {
		for _, sc := range scopes {
			if str, ok := sc.(string); ok {
				claims.Scope = append(claims.Scope, str)
			}
		}
	}
	if exp, ok := raw["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	if claims.AccountID == "" {
		return model.TokenClaims{}, apperr.Unauthorized("token has no subject")
	}
	return claims, nil
}

func (s *TokenService) sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}
