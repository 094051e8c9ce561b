// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const loggingCategory = "LOGGING"

var (
	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value:    3,
		Category: loggingCategory,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:     "log.json",
		Usage:    "Format logs with JSON",
		Category: loggingCategory,
	}
	logFileFlag = &cli.StringFlag{
		Name:     "log.file",
		Usage:    "Write logs to a file instead of stderr",
		Category: loggingCategory,
	}
	logMaxSizeFlag = &cli.IntFlag{
		Name:     "log.maxsize",
		Usage:    "Maximum size in megabytes of the log file before it gets rotated",
		Value:    100,
		Category: loggingCategory,
	}
	logMaxBackupsFlag = &cli.IntFlag{
		Name:     "log.maxbackups",
		Usage:    "Maximum number of log files to retain",
		Value:    10,
		Category: loggingCategory,
	}
	logCompressFlag = &cli.BoolFlag{
		Name:     "log.compress",
		Usage:    "Compress rotated log files",
		Category: loggingCategory,
	}
)

var logFlags = []cli.Flag{
	verbosityFlag,
	logJSONFlag,
	logFileFlag,
	logMaxSizeFlag,
	logMaxBackupsFlag,
	logCompressFlag,
}

var logOutput io.WriteCloser

// setupLogging installs the root log handler from the logging flags.
func setupLogging(ctx *cli.Context) error {
	var (
		output   io.Writer
		useColor bool
	)
	if file := ctx.String(logFileFlag.Name); file != "" {
		logOutput = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    ctx.Int(logMaxSizeFlag.Name),
			MaxBackups: ctx.Int(logMaxBackupsFlag.Name),
			Compress:   ctx.Bool(logCompressFlag.Name),
		}
		output = logOutput
	} else {
		fd := os.Stderr.Fd()
		useColor = (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) && os.Getenv("TERM") != "dumb"
		output = os.Stderr
		if useColor {
			output = colorable.NewColorableStderr()
		}
	}
	log.SetDefault(log.NewLogger(newLogHandler(output, ctx.Int(verbosityFlag.Name), ctx.Bool(logJSONFlag.Name), useColor)))
	return nil
}

func newLogHandler(output io.Writer, verbosity int, json, useColor bool) slog.Handler {
	level := log.FromLegacyLevel(verbosity)
	if json {
		return log.JSONHandlerWithLevel(output, level)
	}
	return log.NewTerminalHandlerWithLevel(output, level, useColor)
}

func closeLogging(*cli.Context) error {
	if logOutput != nil {
		return logOutput.Close()
	}
	return nil
}
