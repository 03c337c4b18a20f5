package channel_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/snr9816-service/internal/channel"
	"github.com/book-expert/snr9816-service/internal/channel/channeltest"
	"github.com/book-expert/snr9816-service/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockWrite = errors.New("mock write error")

func TestGuard_WriteCompletesPartialWrites(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	port.WriteChunk = 2
	guard := channel.NewGuard(port)

	payload, err := frame.Encode(frame.CmdSpeak, frame.CodecGBK, []byte("hello"))
	require.NoError(t, err)

	err = guard.Do(context.Background(), func(conn *channel.Conn) error {
		return conn.Write(payload)
	})
	require.NoError(t, err)
	assert.Equal(t, payload, port.Written())
}

func TestGuard_QueryClearsStaleInput(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	port.InjectStale(frame.StatusIdle)
	port.Script(0x4E)
	guard := channel.NewGuard(port)

	var (
		response byte
		ok       bool
	)

	err := guard.Do(context.Background(), func(conn *channel.Conn) error {
		var queryErr error
		response, ok, queryErr = conn.Query(frame.EncodeControl(frame.CmdStatus), 25*time.Millisecond)

		return queryErr
	})
	require.NoError(t, err)

	assert.True(t, ok)
	assert.Equal(t, byte(0x4E), response)
	assert.Equal(t, 1, port.Drains())
	assert.Equal(t, 1, port.Resets())
	assert.Equal(t, 25*time.Millisecond, port.ReadTimeout())
}

func TestGuard_QueryTimeout(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	port.Script(channeltest.Timeout)
	guard := channel.NewGuard(port)

	err := guard.Do(context.Background(), func(conn *channel.Conn) error {
		_, ok, queryErr := conn.Query(frame.EncodeControl(frame.CmdStatus), time.Millisecond)
		assert.False(t, ok)

		return queryErr
	})
	require.NoError(t, err)
}

func TestGuard_WriteFailureBreaksChannel(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	port.WriteErr = errMockWrite
	guard := channel.NewGuard(port)

	err := guard.Do(context.Background(), func(conn *channel.Conn) error {
		return conn.Write([]byte{0x01})
	})
	require.ErrorIs(t, err, channel.ErrChannelUnavailable)
	require.ErrorIs(t, err, errMockWrite)

	called := false
	err = guard.Do(context.Background(), func(_ *channel.Conn) error {
		called = true

		return nil
	})
	require.ErrorIs(t, err, channel.ErrChannelUnavailable)
	assert.False(t, called)
	require.Error(t, guard.Healthy())
}

func TestGuard_ConnInvalidAfterDo(t *testing.T) {
	t.Parallel()

	guard := channel.NewGuard(channeltest.New())

	var leaked *channel.Conn

	err := guard.Do(context.Background(), func(conn *channel.Conn) error {
		leaked = conn

		return nil
	})
	require.NoError(t, err)

	require.ErrorIs(t, leaked.Write([]byte{0x01}), channel.ErrConnReleased)
}

func TestGuard_AcquireHonoursContext(t *testing.T) {
	t.Parallel()

	guard := channel.NewGuard(channeltest.New())
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = guard.Do(context.Background(), func(_ *channel.Conn) error {
			close(holding)
			<-release

			return nil
		})
	}()

	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := guard.Do(ctx, func(_ *channel.Conn) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done

	require.NoError(t, guard.Do(context.Background(), func(_ *channel.Conn) error { return nil }))
}

func TestGuard_ConcurrentWritesDoNotInterleave(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	port.WriteChunk = 1
	guard := channel.NewGuard(port)

	const writers = 16

	var waitGroup sync.WaitGroup

	for index := range writers {
		waitGroup.Add(1)

		go func(id byte) {
			defer waitGroup.Done()

			data, err := frame.Encode(frame.CmdSpeak, frame.CodecGBK, []byte{id, id, id, id})
			assert.NoError(t, err)

			assert.NoError(t, guard.Do(context.Background(), func(conn *channel.Conn) error {
				return conn.Write(data)
			}))
		}(byte('a' + index))
	}

	waitGroup.Wait()

	frames, err := port.Frames()
	require.NoError(t, err)
	require.Len(t, frames, writers)

	for _, decoded := range frames {
		require.Len(t, decoded.Payload, 4)
		assert.Equal(t, decoded.Payload[0], decoded.Payload[3])
	}
}

func TestGuard_Close(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	guard := channel.NewGuard(port)

	require.NoError(t, guard.Close(context.Background()))
	assert.True(t, port.Closed())

	err := guard.Do(context.Background(), func(_ *channel.Conn) error { return nil })
	require.ErrorIs(t, err, channel.ErrChannelUnavailable)

	require.NoError(t, guard.Close(context.Background()))
}

func TestGuard_CloseLeavesPortOpenWhileCommandInFlight(t *testing.T) {
	t.Parallel()

	port := channeltest.New()
	guard := channel.NewGuard(port)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- guard.Do(context.Background(), func(conn *channel.Conn) error {
			close(entered)
			<-release

			return conn.Write(frame.EncodeControl(frame.CmdStop))
		})
	}()

	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := guard.Close(ctx)
	require.ErrorIs(t, err, channel.ErrCloseAbandoned)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, port.Closed())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, frame.EncodeControl(frame.CmdStop), port.Written())

	err = guard.Do(context.Background(), func(_ *channel.Conn) error { return nil })
	require.ErrorIs(t, err, channel.ErrChannelUnavailable)
}
