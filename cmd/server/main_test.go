package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogBufferKeepsNewestLines(t *testing.T) {
	lb := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(lb, "line %d\n", i)
	}

	assert.Equal(t, []string{"line 2\n", "line 3\n", "line 4\n"}, lb.Lines())
}

func TestLogBufferLinesIsCopy(t *testing.T) {
	lb := NewLogBuffer(2)
	fmt.Fprint(lb, "a")

	lines := lb.Lines()
	lines[0] = "changed"
	assert.Equal(t, []string{"a"}, lb.Lines())
}
