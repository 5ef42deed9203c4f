package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormResetClearsDynamicFields(t *testing.T) {
	f := NewForm("https://gateway.example/tokenize", map[string]string{
		"access_code":        "ac",
		"merchant_reference": "ref-1",
	})

	f.Set("card_number", "4111111111111111")
	f.Set("card_security_code", "123")
	assert.Equal(t, 4, f.FieldCount())

	f.Reset()
	assert.Equal(t, 2, f.FieldCount(), "static credentials survive, dynamic fields do not")

	// Repopulating after a failed attempt must not accumulate duplicates.
	f.Set("card_number", "4111111111111111")
	f.Set("card_number", "4111111111111111")
	f.Set("card_security_code", "123")
	assert.Equal(t, 4, f.FieldCount())
}

func TestFormFrameRotatesPerAttempt(t *testing.T) {
	f := NewForm("https://gateway.example/tokenize", nil)
	first := f.Frame()
	assert.NotEmpty(t, first)

	f.Reset()
	assert.NotEqual(t, first, f.Frame())
}

func TestFormFieldsStableOrder(t *testing.T) {
	f := NewForm("https://gateway.example/tokenize", map[string]string{"b": "2"})
	f.Set("a", "1")
	f.Set("c", "3")

	fields := f.Fields()
	assert.Equal(t, []Field{{"a", "1"}, {"b", "2"}, {"c", "3"}}, fields)
}
