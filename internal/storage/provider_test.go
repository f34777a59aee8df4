package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "out/metadata/a.json", Join("out/", "", "/metadata", "a.json"))
	assert.Equal(t, "a.json", Join("", "a.json"))
	assert.Empty(t, Join())
}
