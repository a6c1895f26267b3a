package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"golang.org/x/crypto/bcrypt"
)

// Objects and actions checked by the HTTP layer.
const (
	ObjCalculations = "calculations"
	ObjRates        = "rates"

	ActRead  = "read"
	ActWrite = "write"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role")
)

var roles = map[string]bool{"admin": true, "operator": true, "viewer": true}

// Token is a configured API credential. Only the bcrypt hash of the secret
// is held.
type Token struct {
	Name string
	Role string
	Hash string
}

// ParseToken parses a "name:role:bcrypt-hash" entry.
func ParseToken(entry string) (Token, error) {
	parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Token{}, errors.New("token entry must be name:role:hash")
	}
	t := Token{Name: parts[0], Role: parts[1], Hash: parts[2]}
	if !roles[t.Role] {
		return Token{}, fmt.Errorf("token %s: %w %q", t.Name, ErrUnknownRole, t.Role)
	}
	if _, err := bcrypt.Cost([]byte(t.Hash)); err != nil {
		return Token{}, fmt.Errorf("token %s: %w", t.Name, err)
	}
	return t, nil
}

// HashSecret returns the bcrypt hash stored in a token entry.
func HashSecret(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("empty secret")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type Service struct {
	tokens   []Token
	enforcer *casbin.Enforcer
}

// NewService builds the authorizer from token entries. With no entries the
// service is disabled and lets every request through.
func NewService(entries []string) (*Service, error) {
	m, err := model.NewModelFromString(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	// Admin can do everything
	e.AddPolicy("admin", "*", "*")
	// Operator runs calculations
	e.AddPolicy("operator", ObjCalculations, ActRead)
	e.AddPolicy("operator", ObjCalculations, ActWrite)
	e.AddPolicy("operator", ObjRates, ActRead)
	// Viewer can only read
	e.AddPolicy("viewer", ObjCalculations, ActRead)
	e.AddPolicy("viewer", ObjRates, ActRead)

	s := &Service{enforcer: e}
	for _, entry := range entries {
		t, err := ParseToken(entry)
		if err != nil {
			return nil, err
		}
		if _, err := e.AddGroupingPolicy(t.Name, t.Role); err != nil {
			return nil, err
		}
		s.tokens = append(s.tokens, t)
	}
	return s, nil
}

// Enabled reports whether any token is configured.
func (s *Service) Enabled() bool { return s != nil && len(s.tokens) > 0 }

// Authenticate returns the token whose hash matches secret.
func (s *Service) Authenticate(secret string) (*Token, error) {
	for i := range s.tokens {
		if bcrypt.CompareHashAndPassword([]byte(s.tokens[i].Hash), []byte(secret)) == nil {
			t := s.tokens[i]
			return &t, nil
		}
	}
	return nil, ErrInvalidToken
}

// Enforce checks whether the named token may perform act on obj.
func (s *Service) Enforce(name, obj, act string) (bool, error) {
	return s.enforcer.Enforce(name, obj, act)
}
