// Package synth implements the synthesize request: it applies the voice
// parameters and notification tag, then speaks the text.
package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/snr9816-service/internal/command"
	"github.com/book-expert/snr9816-service/internal/core"
	"github.com/book-expert/snr9816-service/internal/device"
	"github.com/book-expert/snr9816-service/internal/frame"
	"github.com/book-expert/snr9816-service/internal/observability"
)

// ErrInvalidRequest indicates a request that could not be decoded or validated.
var ErrInvalidRequest = errors.New("invalid synthesize request")

// Driver is the subset of the device driver the service needs.
type Driver interface {
	SubmitAll(ctx context.Context, cmds ...command.Command) error
	Healthy() error
}

// Service implements core.Synthesizer on top of a Driver.
type Service struct {
	driver   Driver
	defaults core.VoiceDefaults
	log      *logger.Logger
}

// New creates a Service.
func New(driver Driver, defaults core.VoiceDefaults, log *logger.Logger) *Service {
	return &Service{
		driver:   driver,
		defaults: defaults,
		log:      log,
	}
}

// Synthesize sets volume, speed and tone, plays the notification and speaks
// the text, in that order. A request with only a notification tag skips the
// speech command. The commands go out as one uninterrupted sequence and a
// request that fails to build writes nothing.
func (s *Service) Synthesize(ctx context.Context, req core.SynthesizeRequest) error {
	cmds, err := s.commands(req)
	if err != nil {
		return err
	}

	if req.Text != "" {
		s.log.Info("Request %s: speaking %d characters", req.RequestID, len([]rune(req.Text)))
	}

	err = s.driver.SubmitAll(ctx, cmds...)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.RequestID, err)
	}

	return nil
}

func (s *Service) commands(req core.SynthesizeRequest) ([]command.Command, error) {
	params := []struct {
		key   command.ParamKey
		value int
	}{
		{key: command.ParamVolume, value: valueOr(req.Volume, s.defaults.Volume)},
		{key: command.ParamSpeed, value: valueOr(req.Speed, s.defaults.Speed)},
		{key: command.ParamTone, value: valueOr(req.Tone, s.defaults.Tone)},
	}

	cmds := make([]command.Command, 0, len(params)+2)

	for _, param := range params {
		cmd, err := command.SetParam(param.key, param.value)
		if err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", param.key, err)
		}

		cmds = append(cmds, cmd)
	}

	notify := req.NotifyTag
	if notify == "" {
		notify = s.defaults.Notify
	}

	if notify != "" {
		cmd, err := command.ParseNotifyTag(notify)
		if err != nil {
			return nil, fmt.Errorf("failed to play notification %q: %w", notify, err)
		}

		cmds = append(cmds, cmd)
	}

	if req.Text == "" && req.NotifyTag != "" {
		return cmds, nil
	}

	return append(cmds, command.Speak(req.Text)), nil
}

// Healthy reports whether the driver can accept commands.
func (s *Service) Healthy() error {
	return s.driver.Healthy()
}

// Outcome classifies a Synthesize error for metrics and replies.
func Outcome(err error) (outcome string, retryable bool) {
	switch {
	case err == nil:
		return observability.OutcomeSuccess, false
	case errors.Is(err, device.ErrDeviceUnresponsive):
		return observability.OutcomeUnresponsive, true
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, frame.ErrEncodingTooLarge),
		errors.Is(err, command.ErrUnknownParam),
		errors.Is(err, command.ErrUnknownCategory),
		errors.Is(err, command.ErrInvalidNotifyTag):
		return observability.OutcomeInvalid, false
	default:
		return observability.OutcomeError, false
	}
}

// Reply builds the reply for a finished request.
func Reply(requestID string, err error) core.SynthesizeReply {
	if err == nil {
		return core.SynthesizeReply{RequestID: requestID, OK: true}
	}

	_, retryable := Outcome(err)

	return core.SynthesizeReply{
		RequestID: requestID,
		OK:        false,
		Error:     err.Error(),
		Retryable: retryable,
	}
}

func valueOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}

	return *value
}
