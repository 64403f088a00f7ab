// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/ops-class/os161-sub000/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString = `^time="[a-zA-Z0-9/:. ]{26}" severity=TRACE message=traceExample`
	textDebugString = `^time="[a-zA-Z0-9/:. ]{26}" severity=DEBUG message=debugExample`
	textInfoString  = `^time="[a-zA-Z0-9/:. ]{26}" severity=INFO message=infoExample`
	textWarnString  = `^time="[a-zA-Z0-9/:. ]{26}" severity=WARNING message=warningExample`
	textErrorString = `^time="[a-zA-Z0-9/:. ]{26}" severity=ERROR message=errorExample`
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func redirectLogsToGivenBuffer(buf *bytes.Buffer, level string) {
	var lvl = new(slog.LevelVar)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(buf, lvl, ""))
	setLoggingLevel(level, lvl)
}

func fetchLogOutput(level string) []string {
	var buf bytes.Buffer
	redirectLogsToGivenBuffer(&buf, level)

	fns := []func(){
		func() { Tracef("traceExample") },
		func() { Debugf("debugExample") },
		func() { Infof("infoExample") },
		func() { Warnf("warningExample") },
		func() { Errorf("errorExample") },
	}

	var out []string
	for _, f := range fns {
		f()
		out = append(out, buf.String())
		buf.Reset()
	}
	return out
}

func (t *LoggerTest) assertMatches(expected []string, actual []string) {
	for i := range actual {
		if expected[i] == "" {
			assert.Equal(t.T(), expected[i], actual[i])
			continue
		}
		assert.Regexp(t.T(), regexp.MustCompile(expected[i]), actual[i])
	}
}

func (t *LoggerTest) TestLevelOffSuppressesEverything() {
	defaultLoggerFactory.format = "text"
	out := fetchLogOutput(config.OFF)
	t.assertMatches([]string{"", "", "", "", ""}, out)
}

func (t *LoggerTest) TestLevelErrorOnlyShowsError() {
	defaultLoggerFactory.format = "text"
	out := fetchLogOutput(config.ERROR)
	t.assertMatches([]string{"", "", "", "", textErrorString}, out)
}

func (t *LoggerTest) TestLevelInfoShowsInfoAndAbove() {
	defaultLoggerFactory.format = "text"
	out := fetchLogOutput(config.INFO)
	t.assertMatches([]string{"", "", textInfoString, textWarnString, textErrorString}, out)
}

func (t *LoggerTest) TestLevelTraceShowsEverything() {
	defaultLoggerFactory.format = "text"
	out := fetchLogOutput(config.TRACE)
	t.assertMatches([]string{textTraceString, textDebugString, textInfoString, textWarnString, textErrorString}, out)
}

func (t *LoggerTest) TestSetLogFormatSwitchesHandler() {
	SetLogFormat("json")
	assert.Equal(t.T(), "json", defaultLoggerFactory.format)

	SetLogFormat("")
	assert.Equal(t.T(), "json", defaultLoggerFactory.format)

	SetLogFormat("text")
	assert.Equal(t.T(), "text", defaultLoggerFactory.format)
}

func (t *LoggerTest) TestSetLoggingLevelKnowsAllSeverities() {
	cases := []struct {
		in       string
		expected slog.Level
	}{
		{config.TRACE, LevelTrace},
		{config.DEBUG, LevelDebug},
		{config.INFO, LevelInfo},
		{config.WARNING, LevelWarn},
		{config.ERROR, LevelError},
		{config.OFF, LevelOff},
	}

	for _, c := range cases {
		v := new(slog.LevelVar)
		setLoggingLevel(c.in, v)
		assert.Equal(t.T(), c.expected, v.Level())
	}
}
