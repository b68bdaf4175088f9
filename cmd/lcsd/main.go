/*
lcsd - LAN Channel Station emulator daemon.

	Copyright (c) 2024, Richard Cornwell

	Permission is hereby granted, free of charge, to any person obtaining a
	copy of this software and associated documentation files (the "Software"),
	to deal in the Software without restriction, including without limitation
	the rights to use, copy, modify, merge, publish, distribute, sublicense,
	and/or sell copies of the Software, and to permit persons to whom the
	Software is furnished to do so, subject to the following conditions:

	The above copyright notice and this permission notice shall be included in
	all copies or substantial portions of the Software.

	THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
	IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
	FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
	RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
	IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
	CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/lcsstation/config/oat"
	"github.com/rcornwell/lcsstation/emu/lcs/attn"
	"github.com/rcornwell/lcsstation/emu/lcs/command"
	"github.com/rcornwell/lcsstation/emu/lcs/ring"
	"github.com/rcornwell/lcsstation/emu/lcs/station"
	"github.com/rcornwell/lcsstation/hostnet"
	logger "github.com/rcornwell/lcsstation/util/logger"
)

var Logger *slog.Logger

func main() {
	optOAT := getopt.StringLong("oat", 'o', "lcs.oat", "OAT configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optBufSize := getopt.IntLong("bufsize", 'b', ring.MaxBufferSize, "Default device ring buffer size")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			slog.Error("create log file", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	debug := false
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, &debug))
	slog.SetDefault(Logger)

	Logger.Info("lcsd started")

	if _, err := os.Stat(*optOAT); os.IsNotExist(err) {
		Logger.Error("OAT file not found", slog.String("path", *optOAT))
		os.Exit(1)
	}

	parsed, err := oat.Load(*optOAT)
	if err != nil {
		Logger.Error("load OAT", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bufSize := ring.ClampBufferSize(*optBufSize, ring.MaxBufferSize)
	cmdConfig := command.Config{
		MinBufferSize:     ring.MinBufferSize,
		MaxBufferSize:     ring.MaxBufferSize,
		DefaultBufferSize: bufSize,
	}
	stationCfg := parsed.ToStation(oat.DefaultIfName, cmdConfig)

	st := station.New(Logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.Configure(ctx, stationCfg, hostnet.Opener{}, hostnet.Link{}, noopAttentionRaiser{}, Logger); err != nil {
		Logger.Error("configure station", slog.String("error", err.Error()))
		os.Exit(1)
	}

	Logger.Info("station configured", slog.Int("ports", len(stationCfg.Ports)), slog.Int("devices", len(stationCfg.Devices)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	Logger.Info("shutting down")
	st.Close()
	Logger.Info("stopped")
}

// noopAttentionRaiser stands in for the hosting channel subsystem's
// real AttentionRaiser when lcsd runs standalone rather than embedded
// in a full channel emulator.
type noopAttentionRaiser struct{}

func (noopAttentionRaiser) DeviceAttention(devAddr uint16, status uint8) attn.Result {
	return attn.ResultOK
}
