// Package command maps high-level speech module operations onto frames.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/book-expert/snr9816-service/internal/frame"
	"github.com/book-expert/snr9816-service/internal/transcode"
)

// Kind identifies a command.
type Kind int

// Command kinds.
const (
	KindSpeak Kind = iota
	KindSetParam
	KindNotify
	KindQueryStatus
	KindPause
	KindStop
)

// ParamKey names a voice parameter.
type ParamKey string

// Voice parameter keys.
const (
	ParamVolume ParamKey = "v"
	ParamSpeed  ParamKey = "s"
	ParamTone   ParamKey = "t"
)

// Category names a built-in notification sound family.
type Category string

// Notification categories.
const (
	CategoryRing    Category = "ring"
	CategoryMessage Category = "message"
	CategoryAlert   Category = "alert"
)

const notifySeparator = "_"

var (
	// ErrUnknownParam indicates a parameter key other than v, s or t.
	ErrUnknownParam = errors.New("unknown voice parameter")
	// ErrUnknownCategory indicates a notify category other than ring, message or alert.
	ErrUnknownCategory = errors.New("unknown notify category")
	// ErrInvalidNotifyTag indicates a notify tag that is not "<category>_<id>".
	ErrInvalidNotifyTag = errors.New("invalid notify tag")
)

// Command is a single operation to submit to the module. Text holds the
// speech text for Speak and the bracketed configuration string for SetParam
// and Notify.
type Command struct {
	Kind Kind
	Text string
}

// Speak builds a speech command.
func Speak(text string) Command {
	return Command{Kind: KindSpeak, Text: text}
}

// SetParam builds a voice parameter command such as "[v7]". The value is not
// range checked; the module tolerates out-of-range values.
func SetParam(key ParamKey, value int) (Command, error) {
	switch key {
	case ParamVolume, ParamSpeed, ParamTone:
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownParam, string(key))
	}

	return Command{Kind: KindSetParam, Text: "[" + string(key) + strconv.Itoa(value) + "]"}, nil
}

// Notify builds a notification sound command such as "[message_5]".
func Notify(category Category, id int) (Command, error) {
	switch category {
	case CategoryRing, CategoryMessage, CategoryAlert:
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCategory, string(category))
	}

	return Command{
		Kind: KindNotify,
		Text: "[" + string(category) + notifySeparator + strconv.Itoa(id) + "]",
	}, nil
}

// ParseNotifyTag parses a tag such as "ring_2" into a Notify command.
func ParseNotifyTag(tag string) (Command, error) {
	category, rawID, found := strings.Cut(strings.TrimSpace(tag), notifySeparator)
	if !found || category == "" || rawID == "" {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidNotifyTag, tag)
	}

	id, err := strconv.Atoi(rawID)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q: %w", ErrInvalidNotifyTag, tag, err)
	}

	return Notify(Category(category), id)
}

// QueryStatus builds the status query command.
func QueryStatus() Command { return Command{Kind: KindQueryStatus} }

// Pause builds the pause command.
func Pause() Command { return Command{Kind: KindPause} }

// Stop builds the stop command.
func Stop() Command { return Command{Kind: KindStop} }

// WaitsForIdle reports whether the command must only be sent to an idle module.
func (c Command) WaitsForIdle() bool {
	return c.Kind == KindSpeak
}

// Frame returns the unencoded frame for the command.
func (c Command) Frame() frame.Frame {
	switch c.Kind {
	case KindQueryStatus:
		return frame.Frame{Command: frame.CmdStatus}
	case KindPause:
		return frame.Frame{Command: frame.CmdPause}
	case KindStop:
		return frame.Frame{Command: frame.CmdStop}
	default:
		return frame.Frame{
			Command:  frame.CmdSpeak,
			Codec:    frame.CodecGBK,
			HasCodec: true,
			Payload:  transcode.GBK(c.Text),
		}
	}
}

// Bytes returns the encoded frame for the command.
func (c Command) Bytes() ([]byte, error) {
	out, err := c.Frame().Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s command: %w", c.Kind, err)
	}

	return out, nil
}

func (k Kind) String() string {
	switch k {
	case KindSpeak:
		return "speak"
	case KindSetParam:
		return "set-param"
	case KindNotify:
		return "notify"
	case KindQueryStatus:
		return "query-status"
	case KindPause:
		return "pause"
	case KindStop:
		return "stop"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}
