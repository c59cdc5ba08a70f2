package doctype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		tag  Tag
		want bool
	}{
		{"rust", Rust, true},
		{"solana", Solana, true},
		{"rust_best_practices", RustBestPractices, true},
		{"unknown", Tag("not_a_real_doctype"), false},
		{"empty", Tag(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tag.Valid())
		})
	}
}

func TestAllCoversEveryKnownTag(t *testing.T) {
	all := All()
	assert.Len(t, all, 10)
	assert.Contains(t, all, Rust)
	assert.Contains(t, all, Ebpf)
}

func TestAPIStyle(t *testing.T) {
	tests := []struct {
		name string
		tag  Tag
		want bool
	}{
		{"birdeye", Birdeye, true},
		{"raydium", Raydium, true},
		{"solana", Solana, true},
		{"rust", Rust, false},
		{"cilium", Cilium, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tag.APIStyle())
		})
	}
}

func TestStringReturnsUnderlyingValue(t *testing.T) {
	assert.Equal(t, "rust", Rust.String())
}
