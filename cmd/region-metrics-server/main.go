// Command region-metrics-server is the optional collector region-bench's
// --telemetry_addr flag pushes reports to: it serves the most recent
// report as JSON from /latest, over both cleartext HTTP/2 and HTTP/3.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/region-rt/regionrt/internal/cli"
	"github.com/region-rt/regionrt/internal/telemetry"
)

func main() {
	var (
		h2cAddr = flag.String("h2c-addr", ":8089", "address to serve cleartext HTTP/2 on")
		h3Addr  = flag.String("h3-addr", ":8090", "address to serve HTTP/3 (QUIC) on")
		showVer = flag.Bool("version", false, "print version information")
	)

	flag.Parse()

	if *showVer {
		cli.PrintVersion("region-metrics-server")
		os.Exit(0)
	}

	srv := telemetry.NewServer()

	errc := make(chan error, 2)
	go func() { errc <- srv.ServeH2C(*h2cAddr) }()
	go func() { errc <- srv.ServeH3(*h3Addr) }()

	fmt.Printf("region-metrics-server listening: h2c=%s h3=%s\n", *h2cAddr, *h3Addr)
	cli.ExitWithError("%v", <-errc)
}
