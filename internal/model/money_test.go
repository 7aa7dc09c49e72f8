package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "1.00", Money(100).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "12.34", Money(1234).String())
}

func TestMoney_JSONIsFixedPoint(t *testing.T) {
	b, err := json.Marshal(struct {
		Cost Money `json:"cost"`
	}{Cost: 300})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cost":"3.00"}`, string(b))
}

func TestMoney_UnmarshalAcceptsStringAndNumber(t *testing.T) {
	var m Money
	require.NoError(t, json.Unmarshal([]byte(`"2.50"`), &m))
	assert.Equal(t, Money(250), m)

	require.NoError(t, json.Unmarshal([]byte(`7`), &m))
	assert.Equal(t, Money(700), m)
}

func TestParseMoney_RejectsSubMinorPrecision(t *testing.T) {
	_, err := ParseMoney("0.001")
	assert.Error(t, err)
}

func TestMoney_Scan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan(int64(150)))
	assert.Equal(t, Money(150), m)

	require.NoError(t, m.Scan([]byte("42")))
	assert.Equal(t, Money(42), m)

	assert.Error(t, m.Scan(3.14))
}
