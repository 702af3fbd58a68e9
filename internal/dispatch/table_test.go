package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableExactMatchWinsOverWildcard(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Add("*", Binding{Groups: []SinkGroup{{Name: "catch-all"}}}))
	require.NoError(t, table.Add("nginx/access", Binding{Groups: []SinkGroup{{Name: "nginx-group"}}}))

	bindings := table.Match("nginx/access")
	require.Len(t, bindings, 1)
	assert.Equal(t, "nginx-group", bindings[0].Groups[0].Name)
}

func TestTableWildcardFallback(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Add("nginx/*", Binding{Groups: []SinkGroup{{Name: "nginx-any"}}}))

	bindings := table.Match("nginx/error")
	require.Len(t, bindings, 1)
	assert.Equal(t, "nginx-any", bindings[0].Groups[0].Name)

	assert.Empty(t, table.Match("apache/access"))
}

func TestTableAddRejectsEmptyPattern(t *testing.T) {
	table := NewTable()
	err := table.Add("", Binding{})
	assert.Error(t, err)
}

func TestTableMultipleWildcardsTriedInOrder(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Add("a/*", Binding{Groups: []SinkGroup{{Name: "first"}}}))
	require.NoError(t, table.Add("*/b", Binding{Groups: []SinkGroup{{Name: "second"}}}))

	bindings := table.Match("a/b")
	require.Len(t, bindings, 2)
	assert.Equal(t, "first", bindings[0].Groups[0].Name)
	assert.Equal(t, "second", bindings[1].Groups[0].Name)
}

func TestWildcardMatch(t *testing.T) {
	cases := []struct {
		pattern, ruleID string
		want            bool
	}{
		{"nginx/*", "nginx/access", true},
		{"nginx/*", "apache/access", false},
		{"*/access", "nginx/access", true},
		{"exact", "exact", true},
		{"exact", "other", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, wildcardMatch(c.pattern, c.ruleID), "pattern=%s ruleID=%s", c.pattern, c.ruleID)
	}
}
