package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		shape Shape
		data  string
	}{
		{"empty", "", ShapeEmpty, ""},
		{"whitespace", "  \n", ShapeEmpty, ""},
		{"list", `[{"id":"a"}]`, ShapeList, `[{"id":"a"}]`},
		{"envelope", `{"data":{"id":"a"},"success":true}`, ShapeEnvelope, `{"id":"a"}`},
		{"envelope with null data", `{"data":null}`, ShapeEnvelope, `null`},
		{"raw object", `{"id":"a"}`, ShapeRaw, `{"id":"a"}`},
		{"raw scalar", `true`, ShapeRaw, `true`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.shape, res.Shape)
			assert.Equal(t, tt.data, string(res.Data))
		})
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte("{nope"))
	require.Error(t, err)
}

func TestEnvelopeMetadata(t *testing.T) {
	res, err := Decode([]byte(`{"data":[],"message":"fetched","success":false}`))
	require.NoError(t, err)
	assert.Equal(t, "fetched", res.Message)
	require.NotNil(t, res.Success)
	assert.False(t, *res.Success)
}

func TestResultList(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantOK bool
		want   string
	}{
		{"bare list", `[{"id":"a"}]`, true, `[{"id":"a"}]`},
		{"enveloped list", `{"data":[{"id":"a"}]}`, true, `[{"id":"a"}]`},
		{"paginated", `{"data":{"data":[{"id":"b"}],"total":1}}`, true, `[{"id":"b"}]`},
		{"object", `{"data":{"id":"a"}}`, false, ""},
		{"empty", ``, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Decode([]byte(tt.body))
			require.NoError(t, err)
			got, ok := res.List()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestIntoLeavesZeroOnNull(t *testing.T) {
	res, err := Decode([]byte(`{"data":null}`))
	require.NoError(t, err)

	out := script{ID: "keep"}
	require.NoError(t, res.Into(&out))
	assert.Equal(t, "keep", out.ID)
}
