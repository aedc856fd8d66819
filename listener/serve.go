// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package listener

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// How long in-flight requests get to finish once Serve has been told to stop.
const shutdownGracePeriod = 10 * time.Second

// Serve hands every accepted connection to 'handler' until ctx is done,
// then shuts down gracefully.
func Serve(ctx context.Context, l *Listener, handler http.Handler) error {
	// No timeouts: uploads can be large and clients slow.
	srv := &http.Server{
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
