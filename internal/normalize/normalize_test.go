package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Smart Traffic System", "smart traffic system"},
		{"punctuation", "Smart Traffic-Light!!", "smart traffic light"},
		{"whitespace collapse", "  AI   Based\tSystem ", "ai based system"},
		{"mixed", "AI-Based: Smart Traffic System (v2)", "ai based smart traffic system v2"},
		{"empty", "", ""},
		{"only punctuation", "!!! --- ???", ""},
		{"unicode letters kept", "Café Menü", "café menü"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Smart Traffic-Light!!",
		"  Blockchain   Voting App  ",
		"AI Based Smart Traffic System",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestNormalize_CaseAndPunctuationInsensitive(t *testing.T) {
	assert.Equal(t, Normalize("smart traffic light"), Normalize("Smart Traffic-Light!!"))
}

func TestNormalizeBulk(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips standalone numbers", "Project 12", "project"},
		{"keeps attached digits", "Project12 Phase2", "project12 phase2"},
		{"multiple numbers", "Batch 3 of 7", "batch of"},
		{"only numbers", "12 47 99", ""},
		{"no numbers", "Blockchain Voting App", "blockchain voting app"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBulk(tt.in))
		})
	}
}
