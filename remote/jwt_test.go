package remote

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTAuth_RoundTrip(t *testing.T) {
	auth := NewJWTAuth("secret")
	tok, exp, err := auth.GenerateToken("seller-1", "device-1", time.Hour)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := auth.ValidateToken(tok)
	require.NoError(t, err)
	require.Equal(t, "seller-1", claims.Subject)
	require.Equal(t, "device-1", claims.DeviceID)

	_, err = NewJWTAuth("other").ValidateToken(tok)
	require.Error(t, err)
}

func TestJWTAuth_RequiresDeviceAndSeller(t *testing.T) {
	auth := NewJWTAuth("secret")
	tok, _, err := auth.GenerateToken("seller-1", "", time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(tok)
	require.ErrorContains(t, err, "did")

	tok, _, err = auth.GenerateToken("", "device-1", time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(tok)
	require.ErrorContains(t, err, "sub")
}

func TestJWTAuth_ClaimsFromRequest(t *testing.T) {
	auth := NewJWTAuth("secret")
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	_, err := auth.ClaimsFromRequest(r)
	require.Error(t, err)

	r.Header.Set("Authorization", "Token abc")
	_, err = auth.ClaimsFromRequest(r)
	require.ErrorContains(t, err, "bearer")

	tok, _, err := auth.GenerateToken("seller-1", "device-1", time.Hour)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+tok)
	claims, err := auth.ClaimsFromRequest(r)
	require.NoError(t, err)
	require.Equal(t, "seller-1", claims.Subject)
}

func TestJWTTokens_Reuses(t *testing.T) {
	src := NewJWTTokens(NewJWTAuth("secret"), "seller-1", "device-1", time.Hour)
	a, err := src.Token(context.Background())
	require.NoError(t, err)
	b, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, a, b)
}
