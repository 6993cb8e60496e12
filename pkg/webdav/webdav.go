// Package webdav shares the destination folder so captures can be pulled
// off the device without stopping the session.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/webdav"

	"manual-shutter/pkg/utils"
)

type Webdav struct {
	lock   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	port   int
	dir    string
	addr   string
}

func New(ctx context.Context, port int, dir string) *Webdav {
	return &Webdav{
		ctx:  ctx,
		port: port,
		dir:  dir,
	}
}

// Start serves the folder. Starting a running server is a no-op.
func (w *Webdav) Start() (addr string, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel != nil {
		return w.addr, nil
	}
	newCtx, cancel := context.WithCancel(w.ctx)
	addr, err = Serve(newCtx, w.port, w.dir)
	if err != nil {
		cancel()
		return "", err
	}
	w.cancel, w.addr = cancel, addr

	return addr, nil
}

// Stop reports whether a running server was stopped.
func (w *Webdav) Stop() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel == nil {
		return false
	}
	w.cancel()
	w.cancel, w.addr = nil, ""
	return true
}

func (w *Webdav) Running() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.cancel != nil
}

// Serve listens on port and serves dir until ctx is done.
func Serve(ctx context.Context, port int, dir string) (string, error) {
	logger := utils.GetLogger()

	h := &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return "", fmt.Errorf("webdav listen: %w", err)
	}
	svr := &http.Server{Handler: h}

	go func() {
		if err := svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("webdav server err: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(srcCtx); err != nil {
			logger.Errorf("shutdown webdav server err: %s", err)
		}
	}()
	logger.Infof("webdav: serving %s on %s", dir, ln.Addr())

	return ln.Addr().String(), nil
}
