// Package telemetry ships one benchmark run's reduced report to a remote
// collector, for dashboards that want to watch GC behavior across runs
// without tailing a CSV file. It is optional: region-bench works
// perfectly well writing only to stdout.
package telemetry

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/region-rt/regionrt/internal/bench"
)

// Report is the JSON body exchanged between region-bench and
// region-metrics-server: one measured run series, reduced.
type Report struct {
	WorkloadHash string           `json:"workload_hash"`
	Runs         []bench.RunStats `json:"runs"`
	Aggregate    bench.Aggregate  `json:"aggregate"`
}

// insecureClientTLS skips certificate verification: both ends of this
// link are development tooling on a trusted network, never a public
// deployment.
func insecureClientTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}
}

// Push POSTs report as JSON to addr over HTTP/3, falling back to cleartext
// HTTP/2 (h2c) if the HTTP/3 request fails (e.g. region-metrics-server is
// reached from a sandboxed environment that blocks UDP).
func Push(ctx context.Context, addr string, report Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("telemetry: marshaling report: %w", err)
	}

	tr := &http3.Transport{TLSClientConfig: insecureClientTLS()}
	defer tr.Close()
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+addr+"/report", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telemetry: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return pushH2C(ctx, addr, body)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry: server returned %s", resp.Status)
	}
	return nil
}

func pushH2C(ctx context.Context, addr string, body []byte) error {
	client := &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(_ context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return net.Dial(network, addr)
			},
		},
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/report", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telemetry: building h2c request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry: h2c push: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry: server returned %s", resp.Status)
	}
	return nil
}

// Server holds the single most recent Report and serves it over both
// cleartext HTTP/2 (h2c) and HTTP/3, the latter via quic-go, mirroring the
// dual-transport pattern the runtime's other network-facing tools use so
// a collector behind a UDP-blocking proxy still gets the push over h2c.
type Server struct {
	mu     sync.RWMutex
	latest *Report

	h3  *http3.Server
	h2c *http.Server
}

// NewServer constructs a Server; call ServeH2C and ServeH3 to start
// accepting connections.
func NewServer() *Server {
	s := &Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/latest", s.handleLatest)

	s.h3 = &http3.Server{Handler: mux, TLSConfig: selfSignedTLS()}
	s.h2c = &http.Server{Handler: h2c.NewHandler(mux, &http2.Server{})}
	return s
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var report Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.latest = &report
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if latest == nil {
		w.Write([]byte("null"))
		return
	}
	json.NewEncoder(w).Encode(latest)
}

// ServeH2C serves the cleartext HTTP/2 listener on addr. Blocks until the
// listener errors or is closed.
func (s *Server) ServeH2C(addr string) error {
	s.h2c.Addr = addr
	return s.h2c.ListenAndServe()
}

// ServeH3 serves the HTTP/3 (QUIC) listener on addr. Blocks until the
// listener errors or is closed.
func (s *Server) ServeH3(addr string) error {
	s.h3.Addr = addr
	return s.h3.ListenAndServe()
}

// selfSignedTLS generates an ephemeral ECDSA certificate good for the
// process lifetime. This is dev-facing diagnostic tooling, never a public
// endpoint, so there is no certificate authority to ask.
func selfSignedTLS() *tls.Config {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("telemetry: generating TLS key: %v", err))
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		panic(fmt.Sprintf("telemetry: generating serial number: %v", err))
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "region-metrics-server"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		panic(fmt.Sprintf("telemetry: creating self-signed certificate: %v", err))
	}

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h3", "h2"}}
}
