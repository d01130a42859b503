// Package command turns parsed RESP frames into typed commands and back.
package command

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"redisync/internal/resp"
)

// Kind tags the variant a Command holds.
type Kind int

const (
	KindPing Kind = iota
	KindEcho
	KindSet
	KindGet
	KindInfo
	KindReplConf
	KindPsync
)

// ReplConfArgKind tags the ReplConf argument variant.
type ReplConfArgKind int

const (
	ReplConfListeningPort ReplConfArgKind = iota
	ReplConfCapabilities
)

// ReplConfArg is the REPLCONF argument: either a listening port or a
// list of capability tokens.
type ReplConfArg struct {
	Kind         ReplConfArgKind
	Port         uint16
	Capabilities []string
}

// Command is a tagged variant over the commands this server understands.
type Command struct {
	Kind Kind

	// Echo
	EchoArg string

	// Set
	Key   string
	Value resp.Frame
	TTL   *int64 // milliseconds, nil if no PX flag was given

	// Get reuses Key above.

	// Info
	Section string

	// ReplConf
	ReplConf ReplConfArg

	// Psync
	MasterID string
	Offset   int64
}

// ErrUnrecognized marks a frame that does not parse into any known
// command. Callers turn it into the "Not a valid command" reply.
var ErrUnrecognized = errors.New("command: unrecognized command")

// UnrecognizedError is ErrUnrecognized carrying the raw command text
// that failed to parse, so the reply can name it back to the client.
type UnrecognizedError struct {
	Name string
}

func (e *UnrecognizedError) Error() string {
	return "command: unrecognized command " + strconv.Quote(e.Name)
}

func (e *UnrecognizedError) Unwrap() error { return ErrUnrecognized }

// Parse turns a parsed Frame into a Command.
//
// A bare string frame equal to "ping" (case-insensitive) is Ping; any
// other bare string is unrecognized. A List recurses into its single
// element when it holds exactly one; an empty list is unrecognized;
// otherwise element 0 names the command (case-insensitive) and the
// remaining elements are its arguments.
func Parse(f resp.Frame) (Command, error) {
	switch f.Kind {
	case resp.KindSimpleString, resp.KindBulkString:
		text := frameText(f)
		if strings.EqualFold(text, "ping") {
			return Command{Kind: KindPing}, nil
		}
		return Command{}, &UnrecognizedError{Name: text}
	case resp.KindList:
		return parseList(f.Children)
	default:
		return Command{}, ErrUnrecognized
	}
}

func parseList(children []resp.Frame) (Command, error) {
	switch len(children) {
	case 0:
		return Command{}, ErrUnrecognized
	case 1:
		return Parse(children[0])
	}

	name, ok := stringFrame(children[0])
	if !ok {
		return Command{}, ErrUnrecognized
	}
	args := children[1:]

	switch strings.ToUpper(name) {
	case "PING":
		return Command{Kind: KindPing}, nil
	case "ECHO":
		return parseEcho(args)
	case "SET":
		return parseSet(args)
	case "GET":
		return parseGet(args)
	case "INFO":
		return parseInfo(args)
	case "REPLCONF":
		return parseReplConf(args)
	case "PSYNC":
		return parsePsync(args)
	default:
		return Command{}, &UnrecognizedError{Name: name}
	}
}

func parseEcho(args []resp.Frame) (Command, error) {
	if len(args) != 1 {
		return Command{}, ErrUnrecognized
	}
	s, ok := stringFrame(args[0])
	if !ok {
		return Command{}, ErrUnrecognized
	}
	return Command{Kind: KindEcho, EchoArg: s}, nil
}

func parseGet(args []resp.Frame) (Command, error) {
	if len(args) != 1 {
		return Command{}, ErrUnrecognized
	}
	key, ok := stringFrame(args[0])
	if !ok {
		return Command{}, ErrUnrecognized
	}
	return Command{Kind: KindGet, Key: key}, nil
}

func parseSet(args []resp.Frame) (Command, error) {
	if len(args) < 2 {
		return Command{}, ErrUnrecognized
	}
	key, ok := stringFrame(args[0])
	if !ok {
		return Command{}, ErrUnrecognized
	}

	cmd := Command{Kind: KindSet, Key: key, Value: args[1]}

	i := 2
	for i < len(args) {
		flag, ok := stringFrame(args[i])
		if !ok {
			return Command{}, ErrUnrecognized
		}
		if strings.EqualFold(flag, "PX") {
			if i+1 >= len(args) {
				return Command{}, ErrUnrecognized
			}
			msStr, ok := stringFrame(args[i+1])
			if !ok {
				return Command{}, ErrUnrecognized
			}
			ms, err := strconv.ParseInt(msStr, 10, 64)
			if err != nil {
				return Command{}, errors.Wrap(ErrUnrecognized, "invalid PX milliseconds")
			}
			cmd.TTL = &ms
			i += 2
			continue
		}
		// Unknown flag: skip by one element, not two.
		i++
	}
	return cmd, nil
}

func parseInfo(args []resp.Frame) (Command, error) {
	if len(args) != 1 {
		return Command{}, ErrUnrecognized
	}
	section, ok := stringFrame(args[0])
	if !ok {
		return Command{}, ErrUnrecognized
	}
	return Command{Kind: KindInfo, Section: section}, nil
}

func parseReplConf(args []resp.Frame) (Command, error) {
	if len(args) < 2 {
		return Command{}, ErrUnrecognized
	}
	sub, ok := stringFrame(args[0])
	if !ok {
		return Command{}, ErrUnrecognized
	}

	switch strings.ToLower(sub) {
	case "listening-port":
		portStr, ok := stringFrame(args[1])
		if !ok {
			return Command{}, ErrUnrecognized
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Command{}, errors.Wrap(ErrUnrecognized, "invalid listening-port")
		}
		return Command{
			Kind: KindReplConf,
			ReplConf: ReplConfArg{
				Kind: ReplConfListeningPort,
				Port: uint16(port),
			},
		}, nil
	case "capa":
		caps := make([]string, 0, len(args)-1)
		for _, a := range args[1:] {
			s, ok := stringFrame(a)
			if !ok {
				return Command{}, ErrUnrecognized
			}
			caps = append(caps, s)
		}
		return Command{
			Kind: KindReplConf,
			ReplConf: ReplConfArg{
				Kind:         ReplConfCapabilities,
				Capabilities: caps,
			},
		}, nil
	default:
		return Command{}, ErrUnrecognized
	}
}

func parsePsync(args []resp.Frame) (Command, error) {
	if len(args) != 2 {
		return Command{}, ErrUnrecognized
	}
	id, ok := stringFrame(args[0])
	if !ok {
		return Command{}, ErrUnrecognized
	}
	offsetStr, ok := stringFrame(args[1])
	if !ok {
		return Command{}, ErrUnrecognized
	}
	offset, err := strconv.ParseInt(offsetStr, 10, 64)
	if err != nil {
		return Command{}, errors.Wrap(ErrUnrecognized, "invalid PSYNC offset")
	}
	return Command{Kind: KindPsync, MasterID: id, Offset: offset}, nil
}

// IsWrite reports whether cmd is a write command — today, exactly SET.
func (cmd Command) IsWrite() bool {
	return cmd.Kind == KindSet
}

// Serialize renders cmd as the List-of-BulkStrings wire form used both
// for ordinary client traffic and for primary-to-replica fanout.
func (cmd Command) Serialize() resp.Frame {
	switch cmd.Kind {
	case KindPing:
		return resp.List(resp.BulkStringFrom("PING"))
	case KindEcho:
		return resp.List(resp.BulkStringFrom("ECHO"), resp.BulkStringFrom(cmd.EchoArg))
	case KindGet:
		return resp.List(resp.BulkStringFrom("GET"), resp.BulkStringFrom(cmd.Key))
	case KindSet:
		children := []resp.Frame{
			resp.BulkStringFrom("SET"),
			resp.BulkStringFrom(cmd.Key),
			cmd.Value,
		}
		if cmd.TTL != nil {
			children = append(children,
				resp.BulkStringFrom("PX"),
				resp.BulkStringFrom(strconv.FormatInt(*cmd.TTL, 10)),
			)
		}
		return resp.List(children...)
	case KindInfo:
		return resp.List(resp.BulkStringFrom("INFO"), resp.BulkStringFrom(cmd.Section))
	case KindReplConf:
		switch cmd.ReplConf.Kind {
		case ReplConfListeningPort:
			return resp.List(
				resp.BulkStringFrom("REPLCONF"),
				resp.BulkStringFrom("listening-port"),
				resp.BulkStringFrom(strconv.Itoa(int(cmd.ReplConf.Port))),
			)
		case ReplConfCapabilities:
			children := []resp.Frame{resp.BulkStringFrom("REPLCONF"), resp.BulkStringFrom("capa")}
			for _, c := range cmd.ReplConf.Capabilities {
				children = append(children, resp.BulkStringFrom(c))
			}
			return resp.List(children...)
		}
	case KindPsync:
		return resp.List(
			resp.BulkStringFrom("PSYNC"),
			resp.BulkStringFrom(cmd.MasterID),
			resp.BulkStringFrom(strconv.FormatInt(cmd.Offset, 10)),
		)
	}
	return resp.List()
}

func stringFrame(f resp.Frame) (string, bool) {
	switch f.Kind {
	case resp.KindSimpleString:
		return f.Str, true
	case resp.KindBulkString:
		return string(f.Bulk), true
	default:
		return "", false
	}
}

func frameText(f resp.Frame) string {
	s, _ := stringFrame(f)
	return s
}
