package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogdyWriter_OneRowPerLogLine(t *testing.T) {
	var got []string
	w := &logdyWriter{sink: func(line string) { got = append(got, line) }}

	n, err := w.Write([]byte("first event\nsecond event\n"))
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.Equal(t, []string{"first event", "second event"}, got)
}

func TestLogdyWriter_IgnoresEmptyChunks(t *testing.T) {
	var got []string
	w := &logdyWriter{sink: func(line string) { got = append(got, line) }}

	_, err := w.Write([]byte("\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("one\n\n\ntwo\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, got)
}
