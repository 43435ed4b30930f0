package domain

import (
	"errors"
	"fmt"
	"testing"

	"secumsg/internal/msgjson"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("read")
	assert.True(t, ok)
	assert.Equal(t, StatusVerified, s)

	_, ok = ParseStatus("seen")
	assert.False(t, ok)
}

func TestMessageVisibility(t *testing.T) {
	m := &Message{SenderID: "a", RecipientID: "b", DeletedFor: msgjson.UserSet{"b"}}
	assert.True(t, m.IsVisibleTo("a"))
	assert.False(t, m.IsVisibleTo("b"))

	m.DeletedForEveryone = true
	assert.False(t, m.IsVisibleTo("a"))

	assert.True(t, m.CanDeleteForEveryone("a"))
	assert.False(t, m.CanDeleteForEveryone("b"))
	assert.Equal(t, "b", m.Peer("a"))
	assert.Equal(t, "a", m.Peer("b"))
}

func TestCodeUnwrapsSentinels(t *testing.T) {
	assert.Equal(t, "exhausted", Code(fmt.Errorf("%w: alice", ErrExhausted)))
	assert.Equal(t, "invalid_request", Code(errors.Join(ErrInvalidRequest, errors.New("bad json"))))
	assert.Equal(t, "internal", Code(errors.New("boom")))
	assert.Equal(t, "", Code(nil))
}
