// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command http-server-upload serves a directory for uploads.
//
// For example, this is how you'd upload a file using `curl`:
//
//	http-server-upload --token=geheim /var/tmp/uploads
//	curl -F uploads=@/etc/os-release -F token=geheim http://127.0.0.1:8080/upload
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	upload "blitznote.com/src/http-server-upload"
	"blitznote.com/src/http-server-upload/listener"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr)
	stop()

	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case err != nil:
		os.Exit(1)
	}
}

// run blocks until 'ctx' is done or the server fails.
// Any error has been reported to stderr already.
func run(ctx context.Context, args []string, lookupEnv func(string) (string, bool), stdout, stderr io.Writer) error {
	opts, err := loadOptions(args, lookupEnv, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return err
	}
	log, err := opts.logger(stderr)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return err
	}
	slog.SetDefault(log)

	cfg, err := opts.configuration()
	if err != nil {
		log.Error("Invalid configuration", "err", err)
		return err
	}
	handler, err := upload.NewHandler(cfg, nil)
	if err != nil {
		log.Error("Cannot set up the upload handler", "err", err)
		return err
	}
	handler.Logger = log

	l, err := listener.Bind(ctx, listener.Config{
		Port:           cfg.Port,
		AutoPortRetry:  cfg.AutoPortRetry,
		MaxPortRetries: cfg.MaxPortRetries,
		Logger:         log,
	})
	if err != nil {
		log.Error("Cannot listen", "err", err)
		return err
	}
	if err = upload.Confine(cfg); err != nil {
		l.Close()
		log.Error("Cannot confine the process to the upload directories", "err", err)
		return err
	}

	maxSize := "unlimited"
	if cfg.MaxFilesize > 0 {
		maxSize = humanize.IBytes(uint64(cfg.MaxFilesize))
	}
	log.Info("Serving uploads",
		"port", l.Port,
		"upload_dir", cfg.UploadDir,
		"temp_dir", cfg.TempDir,
		"max_file_size", maxSize,
		"token", cfg.Token != "",
		"folder_creation", cfg.AutoCreateFolders,
	)
	for _, u := range l.URLs() {
		fmt.Fprintln(stdout, "  "+u)
	}
	fmt.Fprintln(stdout, "Hit CTRL-C to stop the server")

	if err = listener.Serve(ctx, l, upload.WithRequestID(handler)); err != nil {
		log.Error("Server failed", "err", err)
		return err
	}
	log.Info("Server stopped")
	return nil
}
