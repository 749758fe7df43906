package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teacherportal/internal/cache"
	"teacherportal/internal/model"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("server-side-secret"))
	require.NoError(t, err)
	return tok
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		sess Session
		want bool
	}{
		{name: "no token", sess: Session{}, want: true},
		{name: "garbage token", sess: Session{AccessToken: "abc"}, want: true},
		{name: "future exp", sess: Session{AccessToken: signed(t, now.Add(time.Hour))}, want: false},
		{name: "past exp", sess: Session{AccessToken: signed(t, now.Add(-time.Minute))}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sess.Expired(now))
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemoryStore()
	st := NewStore(kv)

	_, err := st.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	sess := FromAuth(model.AuthResponse{
		AccessToken:  "a",
		RefreshToken: "r",
		User:         model.User{ID: "42", Email: "teacher@x.edu", Name: "T", Role: "teacher"},
	})
	require.NoError(t, st.Save(ctx, sess))

	raw, err := kv.Get(ctx, KeyUserEmail)
	require.NoError(t, err)
	assert.Equal(t, "teacher@x.edu", string(raw))

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	require.NoError(t, st.Clear(ctx))
	_, err = st.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}
