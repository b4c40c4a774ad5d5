/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/aliasbox/protocol"
	"github.com/Seednode/aliasbox/signaling"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const qrSize = 512

var submitTimeout = 2 * time.Second

var (
	ErrNothingPublished = errors.New("nothing to relay yet")
	ErrNotAPayload      = errors.New("not a relay payload")
	ErrRelayIdle        = errors.New("nothing is waiting for a payload")
)

// manualRelay shows outgoing payloads as a QR code and as text, and takes
// incoming ones from the console or the local web page.
type manualRelay struct {
	cfg       *Config
	out       io.Writer
	onPublish func(kind signaling.Kind, payload string)

	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	kind    signaling.Kind
	payload string
}

func newManualRelay(cfg *Config, out io.Writer, onPublish func(kind signaling.Kind, payload string)) *manualRelay {
	return &manualRelay{
		cfg:       cfg,
		out:       out,
		onPublish: onPublish,
		inbox:     make(chan []byte),
		closed:    make(chan struct{}),
	}
}

func (r *manualRelay) Publish(ctx context.Context, kind signaling.Kind, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.kind, r.payload = kind, payload
	r.mu.Unlock()

	io.WriteString(r.out, render(kind, payload))

	if r.onPublish != nil {
		r.onPublish(kind, payload)
	}

	logf(r.cfg, "RELAY: Published %s (%s)", kind, humanReadableSize(int64(len(payload))))

	return nil
}

func render(kind signaling.Kind, payload string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n=== %s: scan or copy this to the other device ===\n", kind)

	q, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		fmt.Fprintf(&b, "(no QR code: %v)\n", err)
	} else {
		b.WriteString(q.ToSmallString(false))
	}

	b.WriteString(payload)
	b.WriteString("\n\n")

	return b.String()
}

func (r *manualRelay) Await(ctx context.Context) ([]byte, error) {
	select {
	case data := <-r.inbox:
		return data, nil
	case <-r.closed:
		return nil, signaling.ErrRelayClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit hands a payload to whoever is waiting in Await.
func (r *manualRelay) Submit(ctx context.Context, data []byte) error {
	data = bytes.TrimSpace(data)
	if !protocol.IsRelayPayload(string(data)) {
		return ErrNotAPayload
	}

	t := time.NewTimer(submitTimeout)
	defer t.Stop()

	select {
	case r.inbox <- data:
		logf(r.cfg, "RELAY: Received %s payload", humanReadableSize(int64(len(data))))
		return nil
	case <-t.C:
		return ErrRelayIdle
	case <-r.closed:
		return signaling.ErrRelayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current is the most recently published payload.
func (r *manualRelay) Current() (signaling.Kind, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.kind, r.payload
}

func (r *manualRelay) Close() {
	r.once.Do(func() { close(r.closed) })
}

func serveRelay(cfg *Config, relay *manualRelay, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		kind, payload := relay.Current()
		if payload == "" {
			http.Error(w, ErrNothingPublished.Error(), http.StatusNotFound)

			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Relay-Kind", string(kind))
		securityHeaders(cfg, w)

		_, err := io.WriteString(w, payload+"\n")
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRelayQR(cfg *Config, relay *manualRelay, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		_, payload := relay.Current()
		if payload == "" {
			http.Error(w, ErrNothingPublished.Error(), http.StatusNotFound)

			return
		}

		png, err := qrcode.Encode(payload, qrcode.Low, qrSize)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)

			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Relay code (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func submitRelay(cfg *Config, relay *manualRelay, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)

		body, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxRelayPayload+1))
		if err != nil {
			errs <- err

			return
		}
		if len(body) > protocol.MaxRelayPayload {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)

			return
		}

		switch err := relay.Submit(r.Context(), body); {
		case err == nil:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusAccepted)
			io.WriteString(w, "Ok\n")
		case errors.Is(err, ErrNotAPayload):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrRelayIdle):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
	}
}
