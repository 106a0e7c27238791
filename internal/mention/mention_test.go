package mention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMark_IsMarked(t *testing.T) {
	tr := New(30 * time.Minute)
	assert.False(t, tr.IsMarked("T1"))

	tr.Mark("T1")
	assert.True(t, tr.IsMarked("T1"))
	assert.False(t, tr.IsMarked("T2"))
}

func TestMark_ExpiresAfterTTL(t *testing.T) {
	tr := New(5 * time.Millisecond)
	tr.Mark("T1")
	assert.True(t, tr.IsMarked("T1"))

	time.Sleep(15 * time.Millisecond)
	assert.False(t, tr.IsMarked("T1"))
}

func TestUnmark(t *testing.T) {
	tr := New(time.Hour)
	tr.Mark("T1")
	tr.Unmark("T1")
	assert.False(t, tr.IsMarked("T1"))
}

func TestLen(t *testing.T) {
	tr := New(time.Hour)
	tr.Mark("T1")
	tr.Mark("T2")
	assert.Equal(t, 2, tr.Len())
}
