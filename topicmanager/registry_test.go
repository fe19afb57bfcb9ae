package topicmanager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/domonda/go-topicqueue/topicmanager"
)

func TestTopicRegistry(t *testing.T) {
	r := topicmanager.NewTopicRegistry()

	assert.True(t, r.Add("b"))
	assert.True(t, r.Add("a"))
	assert.False(t, r.Add("a"))
	assert.True(t, r.Contains("a"))
	assert.False(t, r.Contains("c"))
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
	assert.Equal(t, 2, r.Len())

	r.Reset([]string{"c", "", "d"})
	assert.Equal(t, []string{"c", "d"}, r.Snapshot())
	assert.False(t, r.Contains("a"))
}
