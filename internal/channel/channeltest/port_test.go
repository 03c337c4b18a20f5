package channeltest_test

import (
	"testing"

	"github.com/book-expert/snr9816-service/internal/channel/channeltest"
	"github.com/book-expert/snr9816-service/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPort_PayloadEndingLikeStatusQueryGetsNoReply(t *testing.T) {
	t.Parallel()

	port := channeltest.New()

	data, err := frame.Encode(frame.CmdSpeak, frame.CodecGBK, []byte{'x', 0xFD, 0x00, 0x01, 0x21})
	require.NoError(t, err)

	_, err = port.Write(data)
	require.NoError(t, err)

	assert.Equal(t, 0, port.Queries())

	buf := make([]byte, 1)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPort_AnswersQuerySplitAcrossWrites(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	port.Script(0x4E)

	for _, b := range frame.EncodeControl(frame.CmdStatus) {
		_, err := port.Write([]byte{b})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, port.Queries())

	buf := make([]byte, 1)
	n, err := port.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, byte(0x4E), buf[0])
}
