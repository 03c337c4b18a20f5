// Command snr9816-say sends a speech request to a running snr9816-service
// over HTTP or NATS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/snr9816-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag names.
const (
	flagText    = "text"
	flagNotify  = "notify"
	flagVolume  = "volume"
	flagSpeed   = "speed"
	flagTone    = "tone"
	flagAddr    = "addr"
	flagNATS    = "nats"
	flagSubject = "subject"
	flagTimeout = "timeout"
	flagHealth  = "health"
)

// Flag descriptions.
const (
	flagTextDesc    = "Text to speak"
	flagNotifyDesc  = "Notification sound tag, e.g. ring_2"
	flagVolumeDesc  = "Volume level 0-9 (-1 keeps the service default)"
	flagSpeedDesc   = "Speed level 0-9 (-1 keeps the service default)"
	flagToneDesc    = "Tone level 0-9 (-1 keeps the service default)"
	flagAddrDesc    = "Base URL of the HTTP listener"
	flagNATSDesc    = "NATS URL; when set the request is sent over NATS instead of HTTP"
	flagSubjectDesc = "NATS subject for synthesize requests"
	flagTimeoutDesc = "Request timeout"
	flagHealthDesc  = "Check service health and exit"
)

const (
	defaultAddr    = "http://127.0.0.1:8080"
	defaultSubject = "tts.snr9816.synthesize"
	defaultTimeout = 30 * time.Second
	synthesizePath = "/v1/tts/snr9816"
	healthPath     = "/health"
	unsetLevel     = -1
)

var (
	errNothingToSay   = errors.New("either --text or --notify must be provided")
	errHealthWithNATS = errors.New("--health is only available over HTTP")
	errRequestFailed  = errors.New("request failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text    string
	notify  string
	volume  int
	speed   int
	tone    int
	addr    string
	natsURL string
	subject string
	timeout time.Duration
	health  bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	err = run(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(flags appFlags) error {
	err := validate(flags)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	if flags.health {
		return checkHealth(ctx, flags.addr)
	}

	req := buildRequest(flags)

	if flags.natsURL != "" {
		return sendNATS(flags.natsURL, flags.subject, flags.timeout, req)
	}

	return sendHTTP(ctx, flags.addr, req)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("snr9816-say", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.notify, flagNotify, "", flagNotifyDesc)
	flagSet.IntVar(&flags.volume, flagVolume, unsetLevel, flagVolumeDesc)
	flagSet.IntVar(&flags.speed, flagSpeed, unsetLevel, flagSpeedDesc)
	flagSet.IntVar(&flags.tone, flagTone, unsetLevel, flagToneDesc)
	flagSet.StringVar(&flags.addr, flagAddr, defaultAddr, flagAddrDesc)
	flagSet.StringVar(&flags.natsURL, flagNATS, "", flagNATSDesc)
	flagSet.StringVar(&flags.subject, flagSubject, defaultSubject, flagSubjectDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

func validate(flags appFlags) error {
	if flags.health {
		if flags.natsURL != "" {
			return errHealthWithNATS
		}

		return nil
	}

	if flags.text == "" && flags.notify == "" {
		return errNothingToSay
	}

	return nil
}

func buildRequest(flags appFlags) core.SynthesizeRequest {
	return core.SynthesizeRequest{
		RequestID: uuid.NewString(),
		Text:      flags.text,
		Volume:    level(flags.volume),
		Speed:     level(flags.speed),
		Tone:      level(flags.tone),
		NotifyTag: flags.notify,
	}
}

func level(value int) *int {
	if value == unsetLevel {
		return nil
	}

	return &value
}

func formValues(req core.SynthesizeRequest) url.Values {
	values := url.Values{}
	if req.Text != "" {
		values.Set("text", req.Text)
	}

	if req.NotifyTag != "" {
		values.Set("notify", req.NotifyTag)
	}

	for name, value := range map[string]*int{"volume": req.Volume, "speed": req.Speed, "tone": req.Tone} {
		if value != nil {
			values.Set(name, strconv.Itoa(*value))
		}
	}

	return values
}

func sendHTTP(ctx context.Context, addr string, req core.SynthesizeRequest) error {
	endpoint := strings.TrimRight(addr, "/") + synthesizePath

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(formValues(req).Encode()))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, code, err := doRequest(httpReq)
	if err != nil {
		return err
	}

	if code != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", errRequestFailed, code, body)
	}

	fmt.Println(body)

	return nil
}

func checkHealth(ctx context.Context, addr string) error {
	endpoint := strings.TrimRight(addr, "/") + healthPath

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	body, code, err := doRequest(httpReq)
	if err != nil {
		return err
	}

	fmt.Print(body)

	if code != http.StatusOK {
		return fmt.Errorf("%w: service is not healthy (status %d)", errRequestFailed, code)
	}

	return nil
}

func doRequest(httpReq *http.Request) (string, int, error) {
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("failed to reach service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return string(body), resp.StatusCode, nil
}

func sendNATS(natsURL, subject string, timeout time.Duration, req core.SynthesizeRequest) error {
	natsConnection, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.Request(subject, payload, timeout)
	if err != nil {
		return fmt.Errorf("failed to send request on %s: %w", subject, err)
	}

	var reply core.SynthesizeReply

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}

	if !reply.OK {
		return fmt.Errorf("%w: %s (retryable: %t)", errRequestFailed, reply.Error, reply.Retryable)
	}

	fmt.Printf("OK %s\n", reply.RequestID)

	return nil
}
