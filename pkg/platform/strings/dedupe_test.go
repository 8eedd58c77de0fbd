package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "nil stays nil", in: nil, want: nil},
		{name: "artefact ids keep order", in: []string{"a-2", " a-1 ", "a-2"}, want: []string{"a-2", "a-1"}},
		{name: "blank entries dropped", in: []string{"", "  ", "hiu-1"}, want: []string{"hiu-1"}},
		{name: "only blanks", in: []string{" ", "\t"}, want: []string{}},
		{name: "case is significant", in: []string{"HIU-1", "hiu-1"}, want: []string{"HIU-1", "hiu-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.in))
		})
	}
}
