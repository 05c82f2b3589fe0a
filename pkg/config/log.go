// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"strings"

	seelog "github.com/cihub/seelog"

	"github.com/niura/neurostream/pkg/util/log"
)

const logFileMaxSize = 10 * 1024 * 1024         // 10MB
const logDateFormat = "2006-01-02 15:04:05 MST" // see time.Format for format syntax

// LoggerName specifies the name of the service logging to the log file
type LoggerName string

func buildLoggerConfig(loggerName LoggerName, logLevel, logFile string, logToConsole, jsonFormat bool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`<seelog minlevel="%s">
    <outputs formatid="%s">`, strings.ToLower(logLevel), formatID(jsonFormat)))
	if logToConsole {
		sb.WriteString(`<console />`)
	}
	if logFile != "" {
		sb.WriteString(fmt.Sprintf(`<rollingfile type="size" filename="%s" maxsize="%d" maxrolls="1" />`, logFile, logFileMaxSize))
	}
	sb.WriteString(fmt.Sprintf(`</outputs>
    <formats>
        <format id="common" format="%%Date(%s) | %s | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
        <format id="json" format="{&quot;time&quot;:&quot;%%Date(%s)&quot;,&quot;name&quot;:&quot;%s&quot;,&quot;level&quot;:&quot;%%LEVEL&quot;,&quot;file&quot;:&quot;%%RelFile&quot;,&quot;line&quot;:&quot;%%Line&quot;,&quot;msg&quot;:&quot;%%Msg&quot;}%%n"/>
    </formats>
</seelog>`, logDateFormat, loggerName, logDateFormat, loggerName))

	return sb.String()
}

func formatID(jsonFormat bool) string {
	if jsonFormat {
		return "json"
	}
	return "common"
}

// SetupLogger sets up a logger with the specified name, level and output
// options and installs it as the process-wide logger.
func SetupLogger(loggerName LoggerName, logLevel, logFile string, logToConsole, jsonFormat bool) error {
	seelogConfig := buildLoggerConfig(loggerName, logLevel, logFile, logToConsole, jsonFormat)

	logger, err := seelog.LoggerFromConfigAsString(seelogConfig)
	if err != nil {
		return err
	}

	log.SetupLogger(logger, logLevel)
	return nil
}
