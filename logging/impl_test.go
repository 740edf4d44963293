package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"
)

type User struct {
	Name string
}

type BasicStruct struct {
	X int
	y string
}

func assertLogMatches(t *testing.T, actual *bytes.Buffer, expectedLevel, expectedMsg string, expectedFields map[string]any) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	test.That(t, len(actualParts), test.ShouldBeGreaterThanOrEqualTo, 4)
	_, err = time.Parse(DefaultTimeFormatStr, actualParts[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, actualParts[1], test.ShouldEqual, expectedLevel)

	var msgIdx int
	for i, part := range actualParts {
		if part == expectedMsg {
			msgIdx = i
		}
	}
	test.That(t, msgIdx, test.ShouldBeGreaterThan, 0)
	if expectedFields == nil {
		test.That(t, msgIdx, test.ShouldEqual, len(actualParts)-1)
		return
	}
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[msgIdx+1]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedFields)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("impl", DEBUG, true, NewWriterAppender(notStdout))

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout, "INFO", "impl Info log", nil)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout, "INFO", "impl infof log", nil)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout, "INFO", "impl logw", map[string]any{"key": "value"})

	logger.Debugw("structs", "user", User{"alice"}, "basic", BasicStruct{1, "hidden"})
	assertLogMatches(t, notStdout, "DEBUG", "structs", map[string]any{
		"user":  map[string]any{"Name": "alice"},
		"basic": map[string]any{"X": float64(1)},
	})

	logger.Warnw("unpaired", "lonely")
	assertLogMatches(t, notStdout, "WARN", "unpaired", map[string]any{"lonely": "unpaired log key"})
}

func TestLevels(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("impl", WARN, true, NewWriterAppender(notStdout))

	logger.Info("dropped")
	logger.Debugf("dropped %d", 2)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Error("kept")
	assertLogMatches(t, notStdout, "ERROR", "kept", nil)

	logger.CDebugf(EnableDebugMode(context.Background(), ""), "forced %s", "debug")
	assertLogMatches(t, notStdout, "DEBUG", "forced debug", nil)

	level, err := LevelFromString("WARNING")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("registration")
	test.That(t, sub.Name(), test.ShouldEqual, "registration")
	sub.Sublogger("icp").Infow("round done", "round", 3)

	entries := observed.FilterMessage("round done").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "registration.icp")
	test.That(t, entries[0].ContextMap()["round"], test.ShouldEqual, int64(3))
}

func TestApplyPatterns(t *testing.T) {
	logger := NewBlankLogger("mocap").Sublogger("registration").Sublogger("icp")
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)

	matched := ApplyPatterns(logger, []LoggerPatternConfig{
		{Pattern: "mocap.*", Level: "info"},
		{Pattern: "mocap.calibration", Level: "error"},
		{Pattern: "not a pattern!", Level: "error"},
	})
	test.That(t, matched, test.ShouldBeTrue)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)

	test.That(t, LoggerPatternConfig{Pattern: "a..b", Level: "info"}.Validate(), test.ShouldNotBeNil)
	test.That(t, LoggerPatternConfig{Pattern: "a.*", Level: "nope"}.Validate(), test.ShouldNotBeNil)
}

func TestWithFields(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("impl", INFO, true, NewWriterAppender(notStdout))
	camera := logger.With("camera", 2)

	camera.Infow("aligned", "round", 1)
	assertLogMatches(t, notStdout, "INFO", "aligned", map[string]any{"round": float64(1), "camera": float64(2)})

	logger.Infow("plain")
	assertLogMatches(t, notStdout, "INFO", "plain", nil)

	camera.SetLevel(WARN)
	logger.Infow("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rigcal.log")
	appender := NewFileAppender(path, 1, 1)
	logger := NewBlankLogger("rigcal")
	logger.AddAppender(appender)

	logger.Infow("wrote session", "cameras", 3)
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	assertLogMatches(t, bytes.NewBuffer(contents), "INFO", "wrote session", map[string]any{"cameras": float64(3)})
}
