package eventmirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMirror_BufferWriteDropsOldestWhenFull(t *testing.T) {
	m := &Mirror{
		cb:     NewCircuitBreaker(1, time.Second),
		buffer: make([]pendingWrite, 0, 2),
		maxBuf: 2,
	}

	m.bufferWrite(pendingWrite{Stream: "evt:mkt:A", Data: []byte("1")})
	m.bufferWrite(pendingWrite{Stream: "evt:mkt:B", Data: []byte("2")})
	require.Equal(t, 2, m.PendingCount())

	m.bufferWrite(pendingWrite{Stream: "evt:mkt:C", Data: []byte("3")})
	require.Equal(t, 2, m.PendingCount())
	require.Equal(t, "evt:mkt:B", m.buffer[0].Stream)
	require.Equal(t, "evt:mkt:C", m.buffer[1].Stream)
}

func TestMirror_PendingCountStartsEmpty(t *testing.T) {
	m := &Mirror{buffer: make([]pendingWrite, 0, 4), maxBuf: 4}
	require.Equal(t, 0, m.PendingCount())
}
