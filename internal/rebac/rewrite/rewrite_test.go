package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaLookup(t *testing.T) {
	schema := Schema{
		"file": RuleSet{
			"viewer": Rule{Op: This},
			"read": Rule{Op: Union, Children: []Rule{
				{Op: This},
				{Op: ComputedUserset, Relation: "viewer"},
				{Op: ComputedUserset, Relation: "owner"},
				{Op: TupleToUserset, TuplesetRelation: "parent", ComputedRelation: "read"},
			}},
		},
	}

	rule, ok := schema.Lookup("file", "read")
	assert.True(t, ok)
	assert.Equal(t, Union, rule.Op)
	assert.Len(t, rule.Children, 4)

	_, ok = schema.Lookup("file", "nonexistent")
	assert.False(t, ok)

	_, ok = schema.Lookup("folder", "read")
	assert.False(t, ok)
}
