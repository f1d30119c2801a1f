package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLabel(t *testing.T) {
	assert.NoError(t, ValidateLabel(""))
	assert.NoError(t, ValidateLabel("GENERAL: lead the migration"))

	err := ValidateLabel(strings.Repeat("x", MaxLabelLength+1))
	assert.ErrorIs(t, err, ErrInvalidLabel)

	err = ValidateLabel("has\ncontrol")
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestSpawnRequest_Sanitize(t *testing.T) {
	req := SpawnRequest{
		ProjectPath: "  /tmp/proj  ",
		Label:       " fix tests ",
		Backend:     " claude ",
		DependsOn:   []string{" a ", "", "b"},
	}
	req.Sanitize()

	assert.Equal(t, "/tmp/proj", req.ProjectPath)
	assert.Equal(t, "fix tests", req.Label)
	assert.Equal(t, "claude", req.Backend)
	assert.Equal(t, []string{"a", "b"}, req.DependsOn)
}
