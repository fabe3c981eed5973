package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmuslimabdulj/goat-space/internal/logging"
)

func TestRingBuffer_New(t *testing.T) {
	rb := NewRingBuffer[string](10)

	assert.Equal(t, 0, rb.Len())
	assert.Equal(t, 10, rb.cap)

	assert.Equal(t, 1, NewRingBuffer[string](0).cap, "capacity is at least one")
}

func TestRingBuffer_AddAndGetAll(t *testing.T) {
	rb := NewRingBuffer[string](5)

	rb.Add("msg1")
	rb.Add("msg2")
	rb.Add("msg3")

	require.Equal(t, 3, rb.Len())
	assert.Equal(t, []string{"msg1", "msg2", "msg3"}, rb.GetAll())
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer[string](3)

	for _, m := range []string{"msg1", "msg2", "msg3", "msg4", "msg5"} {
		rb.Add(m)
	}

	require.Equal(t, 3, rb.Len())
	assert.Equal(t, []string{"msg3", "msg4", "msg5"}, rb.GetAll())
}

func TestRingBuffer_LogEntries(t *testing.T) {
	rb := NewRingBuffer[logging.Entry](2)
	rb.Add(logging.Entry{Level: "info", Message: "a"})
	rb.Add(logging.Entry{Level: "warn", Message: "b"})
	rb.Add(logging.Entry{Level: "error", Message: "c"})

	all := rb.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Message)
	assert.Equal(t, "error", all[1].Level)
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer[string](5)

	rb.Add("msg1")
	rb.Add("msg2")
	rb.Clear()

	assert.Equal(t, 0, rb.Len())
	assert.Nil(t, rb.GetAll())
}

func TestRingBuffer_Empty(t *testing.T) {
	assert.Nil(t, NewRingBuffer[string](5).GetAll())
}
