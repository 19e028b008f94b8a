package postgres

import (
	"strings"
	"testing"
)

// Memory and file backends keep full decimal precision, so amount columns
// must not carry a fixed scale.
func TestSchemaAmountColumnsAreUnscaled(t *testing.T) {
	for _, line := range strings.Split(schema, "\n") {
		if strings.Contains(line, "NUMERIC(") {
			t.Fatalf("scaled numeric column would round amounts: %s", strings.TrimSpace(line))
		}
	}
}
