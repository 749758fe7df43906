package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teacherportal/internal/cache"
	"teacherportal/internal/model"
)

// ErrNoSession is returned by Store.Load when nobody is signed in.
var ErrNoSession = errors.New("session: not signed in")

// Session identifies the signed-in teacher. It is passed explicitly to the
// API client and to every controller.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Email        string
	Name         string
	Role         string
}

// FromAuth builds a session from a login or register response.
func FromAuth(resp model.AuthResponse) Session {
	return Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		UserID:       resp.User.ID,
		Email:        resp.User.Email,
		Name:         resp.User.Name,
		Role:         resp.User.Role,
	}
}

// ExpiresAt reads the exp claim of the access token. The signature is not
// checked; the client never holds the signing key.
func (s Session) ExpiresAt() (time.Time, error) {
	if s.AccessToken == "" {
		return time.Time{}, ErrNoSession
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("session: parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether the access token has expired at now. Tokens that
// cannot be read count as expired; tokens without exp never expire.
func (s Session) Expired(now time.Time) bool {
	exp, err := s.ExpiresAt()
	if err != nil {
		return true
	}
	return !exp.IsZero() && !now.Before(exp)
}

// Keys under which the session is persisted.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserID       = "user_id"
	KeyUserEmail    = "user_email"
	KeyUserName     = "user_name"
	KeyUserRole     = "user_role"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUserID, KeyUserEmail, KeyUserName, KeyUserRole}

// Store persists a session as six plain string entries.
type Store struct {
	kv cache.Store
}

// NewStore persists sessions into kv.
func NewStore(kv cache.Store) *Store {
	return &Store{kv: kv}
}

func (s *Store) fields(sess *Session) map[string]*string {
	return map[string]*string{
		KeyAccessToken:  &sess.AccessToken,
		KeyRefreshToken: &sess.RefreshToken,
		KeyUserID:       &sess.UserID,
		KeyUserEmail:    &sess.Email,
		KeyUserName:     &sess.Name,
		KeyUserRole:     &sess.Role,
	}
}

// Save writes every field of sess.
func (s *Store) Save(ctx context.Context, sess Session) error {
	fields := s.fields(&sess)
	for _, k := range allKeys {
		if err := s.kv.Set(ctx, k, []byte(*fields[k])); err != nil {
			return fmt.Errorf("session: save %s: %w", k, err)
		}
	}
	return nil
}

// Load reads the persisted session. A missing access token means no session.
func (s *Store) Load(ctx context.Context) (Session, error) {
	var sess Session
	fields := s.fields(&sess)
	for _, k := range allKeys {
		v, err := s.kv.Get(ctx, k)
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			return Session{}, fmt.Errorf("session: load %s: %w", k, err)
		}
		*fields[k] = string(v)
	}
	if sess.AccessToken == "" {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Clear removes every persisted field (sign out).
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, k := range allKeys {
		if err := s.kv.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("session: clear %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
