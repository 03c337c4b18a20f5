package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/snr9816-service/internal/core"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{"--text", "Hello, world!", "--volume", "7", "--notify", "ring_2"})
	require.NoError(t, err)

	assert.Equal(t, "Hello, world!", flags.text)
	assert.Equal(t, "ring_2", flags.notify)
	assert.Equal(t, 7, flags.volume)
	assert.Equal(t, unsetLevel, flags.speed)
	assert.Equal(t, defaultAddr, flags.addr)
	assert.Equal(t, defaultTimeout, flags.timeout)

	_, err = parseFlags([]string{"--volume", "loud"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{name: "text", flags: appFlags{text: "hi"}},
		{name: "notify only", flags: appFlags{notify: "ring_1"}},
		{name: "health", flags: appFlags{health: true}},
		{name: "nothing", flags: appFlags{}, wantErr: errNothingToSay},
		{name: "health over nats", flags: appFlags{health: true, natsURL: "nats://x"}, wantErr: errHealthWithNATS},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validate(testCase.flags)
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestBuildRequest_LeavesUnsetLevelsNil(t *testing.T) {
	t.Parallel()

	req := buildRequest(appFlags{text: "hi", volume: 0, speed: unsetLevel, tone: 9})

	assert.NotEmpty(t, req.RequestID)
	require.NotNil(t, req.Volume)
	assert.Equal(t, 0, *req.Volume)
	assert.Nil(t, req.Speed)
	require.NotNil(t, req.Tone)
	assert.Equal(t, 9, *req.Tone)

	values := formValues(req)
	assert.Equal(t, "hi", values.Get("text"))
	assert.Equal(t, "0", values.Get("volume"))
	assert.Empty(t, values.Get("speed"))
	assert.Equal(t, "9", values.Get("tone"))
}

func TestSendHTTP(t *testing.T) {
	t.Parallel()

	forms := make(chan [2]string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != synthesizePath {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_ = r.ParseForm()
		forms <- [2]string{r.PostForm.Get("text"), r.PostForm.Get("volume")}

		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sendHTTP(ctx, server.URL+"/", buildRequest(appFlags{text: "你好", volume: 3, speed: unsetLevel, tone: unsetLevel}))
	require.NoError(t, err)

	form := <-forms
	assert.Equal(t, "你好", form[0])
	assert.Equal(t, "3", form[1])
}

func TestSendHTTP_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("device unresponsive"))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sendHTTP(ctx, server.URL, buildRequest(appFlags{text: "hi", volume: unsetLevel, speed: unsetLevel, tone: unsetLevel}))
	require.ErrorIs(t, err, errRequestFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool

	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthPath {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, checkHealth(ctx, server.URL))

	healthy.Store(false)

	require.ErrorIs(t, checkHealth(ctx, server.URL), errRequestFailed)
}

func TestSendNATS(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)
	defer server.Shutdown()

	responder, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer responder.Close()

	received := make(chan core.SynthesizeRequest, 2)

	_, err = responder.Subscribe("tts.test", func(msg *nats.Msg) {
		var req core.SynthesizeRequest

		_ = json.Unmarshal(msg.Data, &req)
		received <- req

		reply := core.SynthesizeReply{RequestID: req.RequestID, OK: req.Text != "fail"}
		if !reply.OK {
			reply.Error = "device unresponsive"
			reply.Retryable = true
		}

		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	require.NoError(t, err)
	require.NoError(t, responder.Flush())

	req := buildRequest(appFlags{text: "hi", volume: unsetLevel, speed: 4, tone: unsetLevel})
	require.NoError(t, sendNATS(server.ClientURL(), "tts.test", 5*time.Second, req))

	got := <-received
	assert.Equal(t, req.RequestID, got.RequestID)
	require.NotNil(t, got.Speed)
	assert.Equal(t, 4, *got.Speed)

	failing := buildRequest(appFlags{text: "fail", volume: unsetLevel, speed: unsetLevel, tone: unsetLevel})
	err = sendNATS(server.ClientURL(), "tts.test", 5*time.Second, failing)
	require.ErrorIs(t, err, errRequestFailed)
	assert.Contains(t, err.Error(), "retryable: true")
}
