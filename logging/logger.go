package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/crytic/kprove/logging/colors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// GlobalLogger describes a Logger that is disabled by default and is instantiated when the prover is created. Each
// package should create its own sub-logger via NewSubLogger so that output can be filtered by service.
var GlobalLogger = NewLogger(zerolog.Disabled)

// Logger describes a custom logging object that can log events to any arbitrary channel in structured, unstructured,
// or unstructured-and-colorized form.
type Logger struct {
	// level describes the log level
	level zerolog.Level

	// context describes the key-value pairs attached to every event emitted by this logger.
	context []contextField

	// structuredLogger emits JSON events to structuredWriters.
	structuredLogger zerolog.Logger

	// structuredWriters describes the writers which receive structured JSON output.
	structuredWriters []io.Writer

	// unstructuredLogger emits human-readable events without ANSI colors to unstructuredWriters.
	unstructuredLogger zerolog.Logger

	// unstructuredWriters describes the writers which receive uncolored human-readable output.
	unstructuredWriters []io.Writer

	// unstructuredColorLogger emits human-readable colorized events to unstructuredColorWriters.
	unstructuredColorLogger zerolog.Logger

	// unstructuredColorWriters describes the writers which receive colorized human-readable output.
	unstructuredColorWriters []io.Writer
}

// contextField is a single key-value pair attached to a sub-logger.
type contextField struct {
	key   string
	value string
}

// LogFormat describes what format to log in
type LogFormat string

const (
	// STRUCTURED describes that logging should be done in structured JSON format
	STRUCTURED LogFormat = "structured"
	// UNSTRUCTURED describes that logging should be done in an unstructured format
	UNSTRUCTURED LogFormat = "unstructured"
)

// StructuredLogInfo describes a key-value mapping that can be used to log structured data
type StructuredLogInfo map[string]any

// NewLogger creates a new Logger with the provided level and no writers. Writers are attached with AddWriter.
func NewLogger(level zerolog.Level) *Logger {
	logger := &Logger{
		level:                    level,
		context:                  make([]contextField, 0),
		structuredWriters:        make([]io.Writer, 0),
		unstructuredWriters:      make([]io.Writer, 0),
		unstructuredColorWriters: make([]io.Writer, 0),
	}
	logger.rebuild()
	return logger
}

// NewSubLogger creates a new Logger with an additional key-value pair attached to every event. Writers added to the
// parent after this call are not propagated to the sub-logger.
func (l *Logger) NewSubLogger(key string, value string) *Logger {
	subLogger := &Logger{
		level:                    l.level,
		context:                  append(slices.Clone(l.context), contextField{key: key, value: value}),
		structuredWriters:        slices.Clone(l.structuredWriters),
		unstructuredWriters:      slices.Clone(l.unstructuredWriters),
		unstructuredColorWriters: slices.Clone(l.unstructuredColorWriters),
	}
	subLogger.rebuild()
	return subLogger
}

// AddWriter adds a writer to the list of channels where log output will be sent. The colored flag is only honored
// for UNSTRUCTURED output. Adding a writer twice is a no-op.
func (l *Logger) AddWriter(writer io.Writer, format LogFormat, colored bool) {
	writers := l.writerList(format, colored)
	if slices.Contains(*writers, writer) {
		return
	}
	*writers = append(*writers, writer)
	l.rebuild()
}

// RemoveWriter removes a writer from the list of channels where log output will be sent. If the writer does not
// exist, this is a no-op.
func (l *Logger) RemoveWriter(writer io.Writer, format LogFormat, colored bool) {
	writers := l.writerList(format, colored)
	if i := slices.Index(*writers, writer); i >= 0 {
		*writers = slices.Delete(*writers, i, i+1)
		l.rebuild()
	}
}

// writerList returns the writer list which a writer of the given format belongs to.
func (l *Logger) writerList(format LogFormat, colored bool) *[]io.Writer {
	if format == STRUCTURED {
		return &l.structuredWriters
	}
	if colored {
		return &l.unstructuredColorWriters
	}
	return &l.unstructuredWriters
}

// rebuild recreates the underlying zerolog loggers from the current writer lists.
func (l *Logger) rebuild() {
	l.structuredLogger = l.newZerologLogger(l.structuredWriters, true)

	plain := make([]io.Writer, len(l.unstructuredWriters))
	for i, w := range l.unstructuredWriters {
		plain[i] = formatUnstructuredWriter(zerolog.ConsoleWriter{Out: w, NoColor: true}, l.level)
	}
	l.unstructuredLogger = l.newZerologLogger(plain, false)

	colored := make([]io.Writer, len(l.unstructuredColorWriters))
	for i, w := range l.unstructuredColorWriters {
		colored[i] = formatUnstructuredWriter(zerolog.ConsoleWriter{Out: w}, l.level)
	}
	l.unstructuredColorLogger = l.newZerologLogger(colored, false)
}

// newZerologLogger creates a zerolog.Logger over the provided writers, or a disabled logger if there are none.
func (l *Logger) newZerologLogger(writers []io.Writer, timestamp bool) zerolog.Logger {
	if len(writers) == 0 {
		return zerolog.Nop()
	}
	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(l.level).With()
	if timestamp {
		ctx = ctx.Timestamp()
	}
	for _, field := range l.context {
		ctx = ctx.Str(field.key, field.value)
	}
	return ctx.Logger()
}

// Level will get the log level of the Logger
func (l *Logger) Level() zerolog.Level {
	return l.level
}

// SetLevel will update the log level of the Logger
func (l *Logger) SetLevel(level zerolog.Level) {
	l.level = level
	l.rebuild()
}

// Trace is a wrapper function that will log a trace event
func (l *Logger) Trace(args ...any) {
	l.emit(zerolog.TraceLevel, args...)
}

// Debug is a wrapper function that will log a debug event
func (l *Logger) Debug(args ...any) {
	l.emit(zerolog.DebugLevel, args...)
}

// Info is a wrapper function that will log an info event
func (l *Logger) Info(args ...any) {
	l.emit(zerolog.InfoLevel, args...)
}

// Warn is a wrapper function that will log a warning event
func (l *Logger) Warn(args ...any) {
	l.emit(zerolog.WarnLevel, args...)
}

// Error is a wrapper function that will log an error event
func (l *Logger) Error(args ...any) {
	l.emit(zerolog.ErrorLevel, args...)
}

// Panic is a wrapper function that will log a panic event and then panic.
func (l *Logger) Panic(args ...any) {
	l.emit(zerolog.PanicLevel, args...)
}

// emit builds the messages for every channel and sends the event at the given level. Panic-level events are sent
// to every channel before the panic is raised.
func (l *Logger) emit(level zerolog.Level, args ...any) {
	coloredMsg, plainMsg, err, info := buildMsgs(args...)

	events := []struct {
		event *zerolog.Event
		msg   string
	}{
		{l.structuredLogger.WithLevel(level), plainMsg},
		{l.unstructuredLogger.WithLevel(level), plainMsg},
		{l.unstructuredColorLogger.WithLevel(level), coloredMsg},
	}
	for _, e := range events {
		if e.event == nil {
			continue
		}
		e.event = e.event.Err(err)
		if err != nil && (l.level <= zerolog.DebugLevel || level == zerolog.PanicLevel) {
			e.event = e.event.Stack()
		}
		if info != nil {
			e.event = e.event.Any("info", info)
		}
		e.event.Msg(e.msg)
	}

	if level == zerolog.PanicLevel {
		panic(plainMsg)
	}
}

// buildMsgs takes a variadic list of arguments of any type and returns a colorized message for console output, an
// uncolored message for all other output, and optionally an error and a StructuredLogInfo object. Color functions in
// the argument list switch the color context of every argument that follows.
func buildMsgs(args ...any) (string, string, error, StructuredLogInfo) {
	if len(args) == 0 {
		return "", "", nil, nil
	}

	colorCtx := colors.Reset
	coloredOutput := make([]string, 0, len(args))
	plainOutput := make([]string, 0, len(args))
	var info StructuredLogInfo
	var err error

	for _, arg := range args {
		switch t := arg.(type) {
		case colors.ColorFunc:
			colorCtx = t
		case StructuredLogInfo:
			// Only one structured log info is kept per message.
			info = t
		case error:
			// Only one error is kept per message.
			err = t
		default:
			coloredOutput = append(coloredOutput, colorCtx(t))
			plainOutput = append(plainOutput, fmt.Sprintf("%v", t))
		}
	}

	return strings.Join(coloredOutput, ""), strings.Join(plainOutput, ""), err, info
}

// formatUnstructuredWriter updates a console writer's formatting to the kprove standard.
func formatUnstructuredWriter(writer zerolog.ConsoleWriter, level zerolog.Level) zerolog.ConsoleWriter {
	// Timestamps are only kept in structured output
	writer.FormatTimestamp = func(i any) string {
		return ""
	}

	colored := !writer.NoColor
	writer.FormatLevel = func(i any) string {
		levelStr, _ := i.(string)
		parsed, err := zerolog.ParseLevel(levelStr)
		if err != nil {
			return levelStr
		}
		paint := func(f colors.ColorFunc, s string) string {
			if colored {
				return f(s)
			}
			return s
		}

		switch parsed {
		case zerolog.TraceLevel:
			return paint(colors.CyanBold, zerolog.LevelTraceValue)
		case zerolog.DebugLevel:
			return paint(colors.BlueBold, zerolog.LevelDebugValue)
		case zerolog.InfoLevel:
			return paint(colors.GreenBold, colors.LEFT_ARROW)
		case zerolog.WarnLevel:
			return paint(colors.YellowBold, zerolog.LevelWarnValue)
		case zerolog.ErrorLevel:
			return paint(colors.RedBold, zerolog.LevelErrorValue)
		case zerolog.FatalLevel:
			return paint(colors.RedBold, zerolog.LevelFatalValue)
		case zerolog.PanicLevel:
			return paint(colors.RedBold, zerolog.LevelPanicValue)
		default:
			return levelStr
		}
	}

	// Above debug level the service field is noise on the console
	if level > zerolog.DebugLevel {
		writer.FieldsExclude = []string{SERVICE_KEY}
	}
	return writer
}
