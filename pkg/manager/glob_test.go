package manager

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchGlob(t *testing.T) {
	namespaces := []Namespace{{Identity: "train1"}, {Identity: "train2"}, {Identity: "pretrain"}}

	for _, testCase := range []struct {
		name     string
		glob     string
		expected []string
	}{
		{name: "empty matches all", glob: "", expected: []string{"train1", "train2", "pretrain"}},
		{name: "match all", glob: "*", expected: []string{"train1", "train2", "pretrain"}},
		{name: "match with ?", glob: "train?", expected: []string{"train1", "train2"}},
		{name: "match with * at the end", glob: "train*", expected: []string{"train1", "train2"}},
		{name: "match with * at the beginning", glob: "*train", expected: []string{"pretrain"}},
		{name: "match with multiple *", glob: "*train*", expected: []string{"train1", "train2", "pretrain"}},
		{name: "no match", glob: "nomatch", expected: nil},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			matched, err := matchGlob(testCase.glob, slices.Values(namespaces))
			require.NoError(t, err)
			var got []string
			for namespace := range matched {
				got = append(got, namespace.Identity)
			}
			assert.Equal(t, testCase.expected, got)
		})
	}
}
