// fake-receiver is a webhook endpoint for local testing: it verifies
// docsignal signatures and can simulate flaky or slow recipients.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/docsignal/docsignal/internal/config"
	"github.com/docsignal/docsignal/internal/signing"
)

const (
	sigHeader = "X-DocSignal-Signature"
	tsHeader  = "X-DocSignal-Timestamp"
)

type receiver struct {
	failFirstN    int
	reqCount      int
	secret        string
	leeway        time.Duration
	responseDelay time.Duration
}

func main() {
	cfg := config.FromEnv().FakeReceiver

	rcv := &receiver{
		failFirstN:    cfg.FailFirstN,
		secret:        cfg.EndpointSecret,
		leeway:        time.Duration(cfg.SigningLeewaySeconds) * time.Second,
		responseDelay: time.Duration(cfg.ResponseDelayMS) * time.Millisecond,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rcv.handleHook)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s", cfg.Port)
	log.Fatal(srv.ListenAndServe())
}

func (rcv *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	rcv.reqCount++
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rcv.responseDelay > 0 {
		time.Sleep(rcv.responseDelay)
	}

	if rcv.secret != "" {
		ok, msg := signing.VerifyRequest(rcv.secret, r.Header.Get(tsHeader), b, r.Header.Get(sigHeader), rcv.leeway, time.Now())
		if !ok {
			log.Printf("fake-receiver failed to verify signature: %s", msg)
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if rcv.reqCount <= rcv.failFirstN {
		log.Printf("FAILING (%d/%d) %s headers=%d body=%s", rcv.reqCount, rcv.failFirstN, r.URL.Path, len(r.Header), truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s headers=%d body=%q", r.URL.Path, len(r.Header), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate shortens a string to n bytes with an ellipsis
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
