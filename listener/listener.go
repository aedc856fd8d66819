// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package listener

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

const maxPort = 1<<16 - 1

// Config tells Bind where to listen.
type Config struct {
	// Leave empty to listen on all interfaces.
	Host string
	Port int

	// Try the next port if Port is in use.
	AutoPortRetry bool

	// How many ports after Port to try at most. 0 means there is no limit.
	MaxPortRetries int

	// Optional, else slog.Default is used.
	Logger *slog.Logger
}

// BindError is returned if no socket could be bound.
type BindError struct {
	Port int

	// The address has been in use.
	InUse bool

	Err error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	if e.InUse {
		return "port " + strconv.Itoa(e.Port) + " is already in use: " + e.Err.Error()
	}
	return "cannot listen on port " + strconv.Itoa(e.Port) + ": " + e.Err.Error()
}

// Cause is for github.com/pkg/errors.
func (e *BindError) Cause() error { return e.Err }

// Unwrap is for errors.Is and errors.As.
func (e *BindError) Unwrap() error { return e.Err }

// Listener is a bound socket.
type Listener struct {
	net.Listener

	// What the socket has been bound to in the end.
	Port int
}

// Bind attempts to listen on the configured port, and with AutoPortRetry on the ones after it.
//
// Retries happen one after another and are unbounded unless MaxPortRetries is set.
func Bind(ctx context.Context, cfg Config) (*Listener, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var lc net.ListenConfig
	port := cfg.Port
	for attempt := 0; ; attempt++ {
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
		if err == nil {
			return &Listener{
				Listener: ln,
				Port:     ln.Addr().(*net.TCPAddr).Port,
			}, nil
		}

		bindErr := &BindError{Port: port, InUse: isAddrInUse(err), Err: err}
		switch {
		case !bindErr.InUse, !cfg.AutoPortRetry:
			return nil, bindErr
		case cfg.MaxPortRetries > 0 && attempt >= cfg.MaxPortRetries:
			return nil, bindErr
		case port >= maxPort || port == 0:
			return nil, &BindError{Port: port, Err: errors.New("no port left to try")}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}

		log.Info("Port is in use, trying the next one", "port", port, "next", port+1)
		port++
	}
}

// URLs lists under which addresses the server can be reached,
// which are all addresses of all network interfaces if the listener is not bound to a specific one.
func (l *Listener) URLs() []string {
	var ips []net.IP
	if addr, ok := l.Addr().(*net.TCPAddr); ok && addr.IP != nil && !addr.IP.IsUnspecified() {
		ips = append(ips, addr.IP)
	} else {
		ips = interfaceIPs()
	}

	urls := make([]string, 0, len(ips))
	for _, ip := range ips {
		urls = append(urls, "http://"+net.JoinHostPort(ip.String(), strconv.Itoa(l.Port))+"/")
	}
	return urls
}

func interfaceIPs() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	return ips
}
