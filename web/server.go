// Package web provides a web interface to monitor a training run.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	imageScale = 3
	imageRows  = 8
	imageCols  = 10
)

// Options for the web server
type Options struct {
	Addr     string
	Auth     bool
	Password string
}

// Create the router with handlers for each of the pages
func NewRouter(mon *Monitor, opts Options) (*mux.Router, error) {
	t, err := NewTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "load templates")
	}
	trainPage := NewTrainPage(t.Clone(), mon)
	configPage := NewConfigPage(t.Clone(), mon)
	imagePage := NewImagePage(t.Clone(), mon, imageScale, imageRows, imageCols)

	r := mux.NewRouter()
	if opts.Auth {
		r.Use(NewAuthMiddleware(opts.Password).Middleware)
	}
	r.Handle("/", http.RedirectHandler("/train/stats", http.StatusFound))
	r.Handle("/train/", http.RedirectHandler("/train/stats", http.StatusFound))
	r.HandleFunc("/train/{cmd:(?:stats|stop)}", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.HandleFunc("/config", configPage.Base())

	r.Handle("/images/", http.RedirectHandler("/images/train/0", http.StatusFound))
	r.HandleFunc("/images/{dset:(?:train|test)}/{class:[0-9]+}", imagePage.Base())
	r.HandleFunc("/images/{dset:(?:train|test)}/{opt:(?:prev|next|distort)}", imagePage.Setopt())
	r.HandleFunc("/img/{dset}/{id:[0-9]+}", imagePage.Image())
	return r, nil
}

// Serve pages until the context is cancelled.
func Serve(ctx context.Context, mon *Monitor, opts Options) error {
	r, err := NewRouter(mon, opts)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: opts.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		mon.Close()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	if err = srv.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Wrap(err, "web server")
	}
	return nil
}
