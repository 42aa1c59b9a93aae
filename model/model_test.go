package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_Final(t *testing.T) {
	m := NewMockModel("mock")
	m.AddResponse("hi", "hello there")

	resp, err := Collect(context.Background(), m, Request{Messages: []Message{{Role: "user", Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Len(t, m.Requests(), 1)
}

func TestCollect_StreamingUsesFinalChunk(t *testing.T) {
	m := NewMockModel("mock")
	m.AddResponse("hi", "abc")

	resp, err := Collect(context.Background(), m, Request{Stream: true, Messages: []Message{{Role: "user", Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Text)
}

func TestCollect_Error(t *testing.T) {
	m := NewMockModel("mock")
	boom := errors.New("quota exceeded")
	m.FailWith(boom)

	_, err := Collect(context.Background(), m, Request{Messages: []Message{{Role: "user", Text: "hi"}}})
	assert.ErrorIs(t, err, boom)
}

func TestCollect_NoMessages(t *testing.T) {
	_, err := Collect(context.Background(), NewMockModel("mock"), Request{})
	assert.Error(t, err)
}
