package knowledge

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
		{"lowercases", "Hola", "hola"},
		{"strips accents", "¿Qué señal?", "que senal"},
		{"strips punctuation", "hello, world!!!", "hello world"},
		{"collapses whitespace", "  enciende   la\tluz ", "enciende la luz"},
		{"keeps digits and underscores", "light.sala_2 on", "lightsala_2 on"},
		{"empty", "", ""},
		{"only punctuation", "?!¿¡...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"¿Cómo estás?",
		"Enciende la Luz de la SALA",
		"  multiple   spaces  ",
		"señal ñoño",
		"plain",
		"",
	}
	for _, s := range inputs {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "Normalize must be idempotent for %q", s)
	}
}
