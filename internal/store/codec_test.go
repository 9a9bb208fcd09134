package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinSet_OrderInsensitive(t *testing.T) {
	a := JoinSet([]string{"admin", "ops"})
	b := JoinSet([]string{"ops", "admin"})

	assert.Equal(t, a, b)
	assert.ElementsMatch(t, []string{"admin", "ops"}, SplitSet(a))
}

func TestSplitSet(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    []string
	}{
		{"empty", "", []string{}},
		{"blank", "   ", []string{}},
		{"single", "user", []string{"user"}},
		{"trims and drops empties", " admin, ,ops,, ", []string{"admin", "ops"}},
		{"duplicates", "ops,admin,ops", []string{"admin", "ops"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSet(tt.encoded))
		})
	}
}

func TestJoinSet_Idempotent(t *testing.T) {
	encoded := JoinSet([]string{" b", "a ", "", "b"})
	assert.Equal(t, "a,b", encoded)
	assert.Equal(t, encoded, JoinSet(SplitSet(encoded)))
	assert.Equal(t, "", JoinSet(nil))
}
