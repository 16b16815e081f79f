package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
	z string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
	z string
}

type StructWithAnonymousStruct struct {
	x int
	Y struct {
		Y1 string
	}
	Z string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	// `Helper` will result in test failures being associated with the callers line number. It's
	// more useful to report which `assertLogMatches` call failed rather than which assertion
	// inside this function. Maybe.
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	// Verify the filename matches exactly.
	expectedFilename, _, found := strings.Cut(expectedParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	// Verify the line number is in fact a number, but no more.
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[3], test.ShouldEqual, expectedParts[3])

	// Structured logging with the "w" API. E.g: `Debugw` has an extra tab delimited output.
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 4 {
		return
	}

	// JSON encoding of maps can be unpredictable because map iteration order can change between
	// runs. Parse the output into maps and assert on map equality.
	expectedMap := make(map[string]any)
	err = json.Unmarshal([]byte(expectedParts[4]), &expectedMap)
	test.That(t, err, test.ShouldBeNil)

	actualMap := make(map[string]any)
	err = json.Unmarshal([]byte(actualParts[4]), &actualMap)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

// This test asserts our logger matches the output produced by the following zap config:
//
//	zap := zap.Must(zap.Config{
//			Level:	  zap.NewAtomicLevelAt(zap.InfoLevel),
//			Encoding: "console",
//			EncoderConfig: zapcore.EncoderConfig{
//				TimeKey:		"ts",
//				LevelKey:		"level",
//				NameKey:		"logger",
//				CallerKey:		"caller",
//				FunctionKey:	zapcore.OmitKey,
//				MessageKey:		"msg",
//				StacktraceKey:	"stacktrace",
//				LineEnding:		zapcore.DefaultLineEnding,
//				EncodeLevel:	zapcore.CapitalLevelEncoder,
//				EncodeTime:		zapcore.ISO8601TimeEncoder,
//				EncodeDuration: zapcore.StringDurationEncoder,
//				EncodeCaller:	zapcore.ShortCallerEncoder,
//			},
//			DisableStacktrace: true,
//			OutputPaths:	   []string{"stdout"},
//			ErrorOutputPaths:  []string{"stderr"},
//	}.Build()).Sugar()
//
// E.g:
//
//	2023-10-30T09:12:09.459-0400	INFO	logging/impl_test.go:87	zap Info log
func TestConsoleOutputFormat(t *testing.T) {
	// A logger object that will write to the `notStdout` buffer.
	notStdout := &bytes.Buffer{}
	logger := NewBlankLogger("")
	logger.AddAppender(NewWriterAppender(notStdout))

	logger.Info("impl Info log")
	// Note the use of tabs between the date, level, file location and log line. The
	// `assertLogMatches` helper will also deal with the changes to the time/line number.
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459-0400	INFO	logging/impl_test.go:67	impl Info log`)

	// Using `Infof` substitutes the tail arguments into the leading template string input.
	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:45:20.764-0400	INFO	logging/impl_test.go:131	impl infof log`)

	// Using `Infow` turns the tail arguments into a map for structured logging.
	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806-0400	INFO	logging/impl_test.go:132	impl logw	{"key":"value"}`)

	// A few examples of structs.
	logger.Infow("impl logw", "key", "val", "StructWithAnonymousStruct", StructWithAnonymousStruct{1, struct{ Y1 string }{"y1"}, "foo"})
	//nolint:lll
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	logging/impl_test.go:121	impl logw	{"StructWithAnonymousStruct":{"Y":{"Y1":"y1"},"Z":"foo"},"key":"val"}`)

	logger.Infow("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}, "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	logging/impl_test.go:123	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	logger.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice", "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	logging/impl_test.go:125	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	// An unpaired key still shows up in the output.
	logger.Infow("unpaired", "dangling")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	logging/impl_test.go:125	unpaired	{"dangling":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := NewBlankLogger("")
	logger.AddAppender(NewWriterAppender(notStdout))

	logger.SetLevel(WARN)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)
	logger.Info("dropped")
	logger.Debugw("dropped", "key", "value")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459-0400	WARN	logging/impl_test.go:67	kept`)

	logger.Errorf("kept %d", 2)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459-0400	ERROR	logging/impl_test.go:67	kept 2`)
}

func TestLevelParsing(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	out, err := json.Marshal(ERROR)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"error"`)
}

func TestSubloggerPatterns(t *testing.T) {
	// Unique names keep this test independent of other registered loggers.
	root := NewLogger("patterntest")
	power := root.Sublogger("power")
	codec := root.Sublogger("codec")
	test.That(t, power.Name(), test.ShouldEqual, "patterntest.power")

	errLogger, observed := NewObservedTestLogger(t)
	err := UpdateLoggerLevels([]LoggerPatternConfig{
		{Pattern: "patterntest.power", Level: "debug"},
		{Pattern: "patterntest.*", Level: "error"},
		{Pattern: "bad pattern!", Level: "debug"},
	}, errLogger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, observed.FilterMessage("failed to validate a pattern").Len(), test.ShouldEqual, 1)

	// The later, wider pattern wins for every logger it matches.
	test.That(t, power.GetLevel(), test.ShouldEqual, ERROR)
	test.That(t, codec.GetLevel(), test.ShouldEqual, ERROR)
	test.That(t, root.GetLevel(), test.ShouldEqual, INFO)

	// Loggers created after the update pick up the stored patterns.
	touch := root.Sublogger("touch")
	test.That(t, touch.GetLevel(), test.ShouldEqual, ERROR)

	// Registering an existing name returns the existing logger.
	test.That(t, root.Sublogger("power"), test.ShouldEqual, power)

	test.That(t, UpdateLoggerLevels(nil, errLogger), test.ShouldBeNil)
	test.That(t, power.GetLevel(), test.ShouldEqual, INFO)
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tab5.log")
	appender := NewFileAppender(FileAppenderConfig{Path: path, MaxBackups: 1})
	logger := NewBlankLogger("")
	logger.AddAppender(appender)

	logger.Infow("rail set", "rail", "usb_5v", "on", true)
	test.That(t, logger.Sync(), test.ShouldBeNil)
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	assertLogMatches(t, bytes.NewBuffer(contents),
		`2023-10-30T13:20:47.129-0400	INFO	logging/impl_test.go:125	rail set	{"rail":"usb_5v","on":true}`)
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Debugw("expander found", "addr", 0x43)
	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].Message, test.ShouldEqual, "expander found")
	test.That(t, entries[0].ContextMap()["addr"], test.ShouldEqual, int64(0x43))
}

// recordingTB captures what is written through Log.
type recordingTB struct {
	testing.TB
	lines []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Log(args ...any) {
	r.lines = append(r.lines, fmt.Sprint(args...))
}

func TestTestAppenderWritesThroughLog(t *testing.T) {
	tb := &recordingTB{TB: t}
	logger := NewBlankLogger("power")
	logger.AddAppender(testAppender{tb})

	logger.Infow("rail set", "rail", "usb_5v", "on", true)
	logger.Debug("no fields")

	test.That(t, tb.lines, test.ShouldHaveLength, 2)
	fields := strings.Split(tb.lines[0], "\t")
	test.That(t, fields[1], test.ShouldEqual, "INFO")
	test.That(t, fields[2], test.ShouldEqual, "power")
	test.That(t, fields[len(fields)-2], test.ShouldEqual, "rail set")
	test.That(t, fields[len(fields)-1], test.ShouldEqual, `{"rail":"usb_5v","on":true}`)
	test.That(t, tb.lines[1], test.ShouldEndWith, "\tno fields")
}
