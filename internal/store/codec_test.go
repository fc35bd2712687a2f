package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeJSON_RoundTrip(t *testing.T) {
	original := map[string]any{"order_id": "o-1", "amount": 42.5}

	data, err := EncodeJSON(original)
	require.NoError(t, err)

	restored, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestEncodeJSON_Nil(t *testing.T) {
	data, err := EncodeJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestDecodeJSON_Empty(t *testing.T) {
	v, err := DecodeJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDecodeJSON_Invalid(t *testing.T) {
	_, err := DecodeJSON([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidJSONColumn)
}

func TestEncodeDecodeStringMap_RoundTrip(t *testing.T) {
	original := map[string]string{"source": "api"}

	data, err := EncodeStringMap(original)
	require.NoError(t, err)

	restored, err := DecodeStringMap(data)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestDecodeStringMap_Invalid(t *testing.T) {
	_, err := DecodeStringMap([]byte("{"))
	assert.ErrorIs(t, err, ErrInvalidJSONColumn)
}
