package store

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello world", []string{"hello", "world"}},
		{"hello HELLO Hello", []string{"hello"}},
		{"is it on", nil},
		{"meet at 10am, room B-42", []string{"meet", "10am", "room"}},
		{"", nil},
	}

	for _, tc := range tests {
		got := Tokenize(tc.input)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Tokenize(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}
