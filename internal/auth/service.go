package auth

import (
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-yatri/internal/common"
)

// Claims carries the identity extracted from a verified access token.
type Claims struct {
	UserID string
	Roles  []string
}

// Service verifies bearer tokens issued by the identity service. This engine
// never issues end-user tokens itself; IssueAccessToken exists for tests and
// local tooling.
type Service struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ParseAccessToken verifies the signature and registered claims and returns
// the subject plus any roles claim.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	if len(s.Secret) == 0 {
		return Claims{}, common.NewAppError("AUTH_NOT_CONFIGURED", "token verification unavailable", 500, nil)
	}
	parsed, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, s.Secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", 401, err)
	}
	alg, err := tokenAlgorithm(token)
	if err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", 401, err)
	}
	if err := s.Validator.Validate(parsed, alg, s.now()); err != nil {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "invalid token", 401, err)
	}
	claims := Claims{UserID: parsed.Subject()}
	if claims.UserID == "" {
		return Claims{}, common.NewAppError("UNAUTHORIZED", "token missing subject", 401, nil)
	}
	if raw, ok := parsed.Get("roles"); ok {
		claims.Roles = toRoles(raw)
	}
	return claims, nil
}

// IssueAccessToken mints an HS256 token for the subject. Test helper.
func (s *Service) IssueAccessToken(subject string, roles []string, ttl time.Duration) (string, error) {
	now := s.now()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if s.Validator.Issuer != "" {
		builder = builder.Issuer(s.Validator.Issuer)
	}
	if s.Validator.Audience != "" {
		builder = builder.Audience([]string{s.Validator.Audience})
	}
	if len(roles) > 0 {
		builder = builder.Claim("roles", roles)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.Secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func tokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	msg, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := msg.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token has no signature")
	}
	return signatures[0].ProtectedHeaders().Algorithm(), nil
}

func toRoles(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
