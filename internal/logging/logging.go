package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Builder assembles a zerolog logger from a writer, a log file path and a
// level name.
type Builder struct {
	writer    io.Writer
	path      string
	level     string
	component string
}

// Output is what Make produces. File is nil unless the builder was given a
// path; callers close it on shutdown.
type Output struct {
	File   *os.File
	Logger zerolog.Logger
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) FromPath(path string) *Builder {
	b.path = strings.TrimSpace(path)
	return b
}

func (b *Builder) FromWriter(w io.Writer) *Builder {
	b.writer = w
	return b
}

func (b *Builder) WithLevel(level string) *Builder {
	b.level = level
	return b
}

func (b *Builder) WithComponent(component string) *Builder {
	b.component = strings.TrimSpace(component)
	return b
}

func (b *Builder) Make() (*Output, error) {
	out := &Output{}
	writer := b.writer
	if writer == nil {
		writer = os.Stdout
	}
	if b.path != "" {
		file, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		out.File = file
		writer = zerolog.SyncWriter(file)
	}
	level, err := ParseLevel(b.level)
	if err != nil {
		if out.File != nil {
			_ = out.File.Close()
		}
		return nil, err
	}
	ctx := zerolog.New(writer).Level(level).With().Timestamp()
	if b.component != "" {
		ctx = ctx.Str("component", b.component)
	}
	out.Logger = ctx.Logger()
	return out, nil
}

// Close releases the log file, if any.
func (o *Output) Close() error {
	if o == nil || o.File == nil {
		return nil
	}
	return o.File.Close()
}

// ParseLevel maps a config value to a zerolog level; empty means info.
func ParseLevel(raw string) (zerolog.Level, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(raw)
}
