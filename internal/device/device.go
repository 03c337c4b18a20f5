// Package device drives the SNR9816 speech module: it polls the module's
// busy/idle status and submits commands through the channel guard.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/snr9816-service/internal/channel"
	"github.com/book-expert/snr9816-service/internal/command"
	"github.com/book-expert/snr9816-service/internal/frame"
	"github.com/book-expert/snr9816-service/internal/observability"
)

// Default timings.
const (
	DefaultStatusReadTimeout = 10 * time.Millisecond
	DefaultPollInterval      = 100 * time.Millisecond
)

// ErrDeviceUnresponsive indicates the module never reported idle before the
// caller's deadline. It is safe to retry.
var ErrDeviceUnresponsive = errors.New("speech module did not become idle")

// Status is the module's speech engine state.
type Status int

// Module states. A missing reply counts as Busy.
const (
	Busy Status = iota
	Idle
)

func (s Status) String() string {
	if s == Idle {
		return "idle"
	}

	return "busy"
}

// StatusFromResponse classifies a status reply. ok is false when no byte arrived.
func StatusFromResponse(response byte, ok bool) Status {
	if ok && frame.IsIdle(response) {
		return Idle
	}

	return Busy
}

// Config holds the driver timings.
type Config struct {
	// StatusReadTimeout bounds the wait for a status reply byte.
	StatusReadTimeout time.Duration
	// PollInterval is the pause between status queries while the module is busy.
	PollInterval time.Duration
	// IdleTimeout bounds the whole wait for idle. Zero waits forever.
	IdleTimeout time.Duration
}

// Driver submits commands to the module.
type Driver struct {
	guard  *channel.Guard
	config Config
	log    *logger.Logger
}

// NewDriver creates a driver that owns guard.
func NewDriver(guard *channel.Guard, cfg Config, log *logger.Logger) *Driver {
	if cfg.StatusReadTimeout <= 0 {
		cfg.StatusReadTimeout = DefaultStatusReadTimeout
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Driver{
		guard:  guard,
		config: cfg,
		log:    log,
	}
}

// Submit encodes cmd and writes it to the module. Speech commands first wait
// for the module to report idle, holding the channel for the whole wait.
func (d *Driver) Submit(ctx context.Context, cmd command.Command) error {
	return d.SubmitAll(ctx, cmd)
}

// SubmitAll writes cmds in order under a single hold of the channel, so no
// other caller's command lands between them. Every command is encoded before
// anything is written; an encoding failure writes nothing. Speech commands
// wait for idle in place.
func (d *Driver) SubmitAll(ctx context.Context, cmds ...command.Command) error {
	if len(cmds) == 0 {
		return nil
	}

	encoded := make([][]byte, len(cmds))
	waitsForIdle := false

	for index, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			return fmt.Errorf("command %s: %w", cmd.Kind, err)
		}

		encoded[index] = data
		waitsForIdle = waitsForIdle || cmd.WaitsForIdle()
	}

	if waitsForIdle && d.config.IdleTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.config.IdleTimeout)
		defer cancel()
	}

	written := 0

	err := d.guard.Do(ctx, func(conn *channel.Conn) error {
		for index, cmd := range cmds {
			if cmd.WaitsForIdle() {
				waitErr := d.waitIdle(ctx, conn)
				if waitErr != nil {
					return waitErr
				}
			}

			writeErr := conn.Write(encoded[index])
			if writeErr != nil {
				return writeErr
			}

			written++
		}

		return nil
	})

	for index := range written {
		observability.RecordFrame(cmds[index].Kind.String(), len(encoded[index]))
	}

	if err != nil {
		return d.classify(cmds[min(written, len(cmds)-1)], err)
	}

	return nil
}

// Status performs a single status query.
func (d *Driver) Status(ctx context.Context) (Status, error) {
	status := Busy

	err := d.guard.Do(ctx, func(conn *channel.Conn) error {
		var checkErr error

		status, checkErr = d.checkStatus(conn)

		return checkErr
	})
	if err != nil {
		return Busy, d.classify(command.QueryStatus(), err)
	}

	return status, nil
}

// Healthy reports whether the serial channel is still usable.
func (d *Driver) Healthy() error {
	return d.guard.Healthy()
}

// Speak waits for idle and then speaks text.
func (d *Driver) Speak(ctx context.Context, text string) error {
	return d.Submit(ctx, command.Speak(text))
}

// SetParam sets a voice parameter.
func (d *Driver) SetParam(ctx context.Context, key command.ParamKey, value int) error {
	cmd, err := command.SetParam(key, value)
	if err != nil {
		return err
	}

	return d.Submit(ctx, cmd)
}

// Volume sets the speech volume.
func (d *Driver) Volume(ctx context.Context, value int) error {
	return d.SetParam(ctx, command.ParamVolume, value)
}

// Speed sets the speech rate.
func (d *Driver) Speed(ctx context.Context, value int) error {
	return d.SetParam(ctx, command.ParamSpeed, value)
}

// Tone sets the speech pitch.
func (d *Driver) Tone(ctx context.Context, value int) error {
	return d.SetParam(ctx, command.ParamTone, value)
}

// Notify plays a built-in notification sound.
func (d *Driver) Notify(ctx context.Context, category command.Category, id int) error {
	cmd, err := command.Notify(category, id)
	if err != nil {
		return err
	}

	return d.Submit(ctx, cmd)
}

// NotifyTag plays the notification named by a tag such as "ring_2".
func (d *Driver) NotifyTag(ctx context.Context, tag string) error {
	cmd, err := command.ParseNotifyTag(tag)
	if err != nil {
		return err
	}

	return d.Submit(ctx, cmd)
}

// Ring plays ring sound id.
func (d *Driver) Ring(ctx context.Context, id int) error {
	return d.Notify(ctx, command.CategoryRing, id)
}

// Message plays message sound id.
func (d *Driver) Message(ctx context.Context, id int) error {
	return d.Notify(ctx, command.CategoryMessage, id)
}

// Alert plays alert sound id.
func (d *Driver) Alert(ctx context.Context, id int) error {
	return d.Notify(ctx, command.CategoryAlert, id)
}

// Pause pauses the current speech.
func (d *Driver) Pause(ctx context.Context) error {
	return d.Submit(ctx, command.Pause())
}

// Stop stops the current speech.
func (d *Driver) Stop(ctx context.Context) error {
	return d.Submit(ctx, command.Stop())
}

func (d *Driver) checkStatus(conn *channel.Conn) (Status, error) {
	query := frame.EncodeControl(frame.CmdStatus)

	response, ok, err := conn.Query(query, d.config.StatusReadTimeout)
	if err != nil {
		return Busy, err
	}

	status := StatusFromResponse(response, ok)

	switch {
	case !ok:
		observability.RecordStatusPoll(observability.PollTimeout)
	case status == Idle:
		observability.RecordStatusPoll(observability.PollIdle)
	default:
		observability.RecordStatusPoll(observability.PollBusy)
	}

	return status, nil
}

// waitIdle polls until the module reports idle. Between polls it waits
// PollInterval, returning early with ErrDeviceUnresponsive once ctx is done.
func (d *Driver) waitIdle(ctx context.Context, conn *channel.Conn) error {
	started := time.Now()
	polls := 0

	timer := time.NewTimer(d.config.PollInterval)
	defer timer.Stop()

	for {
		status, err := d.checkStatus(conn)
		if err != nil {
			return err
		}

		polls++

		if status == Idle {
			observability.ObserveIdleWait(time.Since(started))

			if polls > 1 {
				d.log.Info("Speech module idle after %d polls (%s)", polls, time.Since(started))
			}

			return nil
		}

		timer.Reset(d.config.PollInterval)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d polls: %w", ErrDeviceUnresponsive, polls, ctx.Err())
		case <-timer.C:
		}
	}
}

func (d *Driver) classify(cmd command.Command, err error) error {
	switch {
	case errors.Is(err, ErrDeviceUnresponsive):
		d.log.Warn("Command %s abandoned: %v", cmd.Kind, err)

		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		d.log.Warn("Command %s gave up waiting for the serial channel: %v", cmd.Kind, err)

		return fmt.Errorf("%w: %w", ErrDeviceUnresponsive, err)
	case errors.Is(err, channel.ErrChannelUnavailable):
		observability.RecordChannelFailure()
		d.log.Error("Command %s failed on serial channel: %v", cmd.Kind, err)

		return err
	default:
		return fmt.Errorf("command %s failed: %w", cmd.Kind, err)
	}
}
