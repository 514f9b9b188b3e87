package ctxutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTraceRoundTrip(t *testing.T) {
	_, ok := TraceFrom(context.Background())
	assert.False(t, ok)

	ctx := WithTrace(context.Background(), Trace{TraceID: "t-1"})
	tr, ok := TraceFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, []interface{}{"trace_id", "t-1"}, tr.LogFields())
}

func TestRequesterID(t *testing.T) {
	assert.Equal(t, uuid.Nil, RequesterID(context.Background()))

	id := uuid.New()
	ctx := WithRequestData(context.Background(), &RequestData{UserID: id})
	assert.Equal(t, id, RequesterID(ctx))
}
