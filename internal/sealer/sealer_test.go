package sealer

import (
	"bytes"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	s, err := NewRandom()
	require.NoError(t, err)

	inputs := []string{"", "a@b.com", gofakeit.Email(), gofakeit.URL(), gofakeit.Sentence(12)}
	for _, in := range inputs {
		sealed, err := s.Seal([]byte(in))
		require.NoError(t, err)

		out, err := s.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, in, string(out))
	}
}

func TestSeal_DistinctNonces(t *testing.T) {
	s, err := NewRandom()
	require.NoError(t, err)

	a, err := s.Seal([]byte("a@b.com"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("a@b.com"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestOpen_FailsClosed(t *testing.T) {
	s, err := NewRandom()
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("https://example.com/q/123"))
	require.NoError(t, err)

	tampered := Sealed{Ciphertext: bytes.Clone(sealed.Ciphertext), Nonce: sealed.Nonce}
	tampered.Ciphertext[0] ^= 0xff
	out, err := s.Open(tampered)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Nil(t, out)

	_, err = s.Open(Sealed{Ciphertext: sealed.Ciphertext, Nonce: sealed.Nonce[:4]})
	assert.ErrorIs(t, err, ErrOpen)

	other, err := NewRandom()
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}
