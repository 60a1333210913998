// Command llamagate-worker is the subprocess spawned by internal/proxy.Start
// for every model load. It is never invoked directly by an operator: the
// gateway re-execs its own binary (or, in this split-binary layout, this
// dedicated worker binary) with stdin/stdout wired to the IPC Channel and
// file descriptor 3 wired to the StopFlag control pipe, exactly as
// internal/proxy.Proxy.Start sets up cmd.StdinPipe/StdoutPipe/ExtraFiles.
//
// --model-name is informational only (used for the worker's own log
// lines); the model path and LOAD parameters travel over the IPC channel
// in the LOAD request payload.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"llamagate/internal/ipc"
	"llamagate/internal/worker"
)

func main() {
	modelName := flag.String("model-name", "", "logical model name, for logging only")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("component", "llamagate-worker", "model", *modelName, "pid", os.Getpid())

	ch := ipc.NewChannel(os.Stdout, os.Stdin, os.Stdin)

	controlPipe := os.NewFile(3, "control")
	stop := &worker.StopFlag{}
	if controlPipe != nil {
		go stop.WatchControlPipe(controlPipe, logger)
	}

	engineFactory := func() worker.ModelEngine { return worker.NewSimEngine() }
	w := worker.New(ch, engineFactory, stop, logger)

	logger.Info("worker starting")
	if err := w.Run(context.Background()); err != nil {
		logger.Error("worker exiting on IPC error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker exiting cleanly")
}
