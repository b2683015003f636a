package natsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchKeyFilter(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		filter string
		want   bool
	}{
		{"exact", "ent.t1.e1", "ent.t1.e1", true},
		{"trailing wildcard", "ent.t1.e1", "ent.t1.*", true},
		{"wildcard is one token", "ent.t1.e1.extra", "ent.t1.*", false},
		{"middle wildcard", "ent.t1.e1", "ent.*.e1", true},
		{"prefix mismatch", "name.t1.e1", "ent.t1.*", false},
		{"tenant mismatch", "ent.t2.e1", "ent.t1.*", false},
		{"greater-than matches rest", "ent.t1.e1.extra", "ent.t1.>", true},
		{"filter longer than key", "ent.t1", "ent.t1.*", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchKeyFilter(tt.key, tt.filter))
		})
	}
}

func TestMatchesAnyFilter(t *testing.T) {
	filters := []string{"ent.t1.*", "name.t1.*"}
	assert.True(t, matchesAnyFilter("ent.t1.e1", filters))
	assert.True(t, matchesAnyFilter("name.t1.deadbeef", filters))
	assert.False(t, matchesAnyFilter("ent.t2.e1", filters))
}
