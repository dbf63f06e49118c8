package process

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedBlob reports a truncated or unterminated process-arguments
// blob. The tokenizer refuses to read past a computed bound; a bad blob
// yields this error, never garbage tokens.
var ErrMalformedBlob = errors.New("malformed process arguments blob")

// ArgsBlob is the decoded form of a raw kernel process-arguments buffer:
// a leading 32-bit argument count, the executable path, the argument
// vector, then NUL-separated NAME=VALUE environment strings.
type ArgsBlob struct {
	Exe  string
	Args []string
	Env  map[string]string
}

// CommandLine joins the executable and arguments the way audit records
// store them.
func (b *ArgsBlob) CommandLine() string {
	if len(b.Args) == 0 {
		return b.Exe
	}
	return b.Exe + " " + strings.Join(b.Args, " ")
}

// ParseArgsBlob tokenizes a raw arguments buffer. Every token must be
// NUL-terminated within the buffer; truncation at any point returns
// ErrMalformedBlob rather than a partial token.
func ParseArgsBlob(data []byte) (*ArgsBlob, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: missing argument count", ErrMalformedBlob)
	}
	argc := int(int32(binary.LittleEndian.Uint32(data[:4])))
	if argc < 0 || argc > len(data) {
		return nil, fmt.Errorf("%w: implausible argument count %d", ErrMalformedBlob, argc)
	}

	t := tokenizer{data: data, off: 4}

	exe, err := t.next()
	if err != nil {
		return nil, fmt.Errorf("%w: executable path: %v", ErrMalformedBlob, err)
	}
	t.skipPadding()

	// The first argument token repeats the executable; keep only the rest.
	args := make([]string, 0, argc)
	for i := 0; i < argc; i++ {
		tok, err := t.next()
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d of %d: %v", ErrMalformedBlob, i, argc, err)
		}
		if i > 0 {
			args = append(args, tok)
		}
	}

	env := make(map[string]string)
	for !t.done() {
		tok, err := t.next()
		if err != nil {
			return nil, fmt.Errorf("%w: environment: %v", ErrMalformedBlob, err)
		}
		if tok == "" {
			break
		}
		name, value, ok := strings.Cut(tok, "=")
		if !ok || name == "" {
			continue
		}
		if _, dup := env[name]; !dup {
			env[name] = value
		}
	}

	return &ArgsBlob{Exe: exe, Args: args, Env: env}, nil
}

// SplitEnv parses one NAME=VALUE string on the first '='. ok is false for
// strings without one.
func SplitEnv(s string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(s, "=")
	if name == "" {
		ok = false
	}
	return
}

// EnvMap converts an environment vector into a map, keeping the first
// occurrence of each name.
func EnvMap(vars []string) map[string]string {
	env := make(map[string]string, len(vars))
	for _, v := range vars {
		name, value, ok := SplitEnv(v)
		if !ok {
			continue
		}
		if _, dup := env[name]; !dup {
			env[name] = value
		}
	}
	return env
}

type tokenizer struct {
	data []byte
	off  int
}

func (t *tokenizer) done() bool { return t.off >= len(t.data) }

// next reads one NUL-terminated token and advances past the terminator.
func (t *tokenizer) next() (string, error) {
	if t.done() {
		return "", errors.New("buffer exhausted")
	}
	for i := t.off; i < len(t.data); i++ {
		if t.data[i] == 0 {
			tok := string(t.data[t.off:i])
			t.off = i + 1
			return tok, nil
		}
	}
	return "", errors.New("unterminated token")
}

// skipPadding advances over the NUL padding between the executable path and
// the argument vector.
func (t *tokenizer) skipPadding() {
	for t.off < len(t.data) && t.data[t.off] == 0 {
		t.off++
	}
}
