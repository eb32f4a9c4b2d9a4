package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignKnownVectors(t *testing.T) {
	assert.Equal(t,
		"88aab3ede8d3adf94d26ab90d3bafd4a2083070c3bcce9c014ee04a443847c0b",
		Sign([]byte("hello"), "secret"))

	assert.Equal(t,
		"d9e3279389c27f5dcb18163ec4146173e9413b16d56bcb105b014e9ac92b6775",
		Sign([]byte(`{"deviceType":"dm2500i"}`), "signing-key"))
}

func TestSignDependsOnSecret(t *testing.T) {
	body := []byte(`{"deviceType":"dm2500i"}`)
	assert.NotEqual(t, Sign(body, "secret-a"), Sign(body, "secret-b"))
}
