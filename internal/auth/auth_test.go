package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")

	token, err := v.Issue(Identity{UserID: "u-1", Email: "dr@example.com", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, "dr@example.com", id.Email)
	assert.True(t, id.IsAdmin())
}

func TestVerify_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	other, err := NewVerifier("other").Issue(Identity{UserID: "u-1"}, time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue(Identity{UserID: "u-1"}, -time.Minute)
	require.NoError(t, err)
	noSubject, err := v.Issue(Identity{}, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": other,
		"expired":      expired,
		"no subject":   noSubject,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestFromRequest(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(Identity{UserID: "u-1"}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	_, err = v.FromRequest(r)
	assert.ErrorIs(t, err, ErrNoToken)

	r.Header.Set("Authorization", "Bearer "+token)
	id, err := v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	id, err = v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u-1"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u-1", id.UserID)
}
