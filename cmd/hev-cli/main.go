// Command hev-cli is an interactive client for hev-server: it sends mode and
// threshold requests and prints telemetry broadcasts.
package main

import (
	"flag"
	"log"
	"time"
)

func main() {
	var (
		requestAddr   = flag.String("request", "127.0.0.1:54321", "Request socket address")
		broadcastAddr = flag.String("broadcast", "127.0.0.1:54320", "Broadcast socket address")
		timeout       = flag.Duration("timeout", 2*time.Second, "Dial and request timeout")
		evalOnly      = flag.Bool("e", false, "Evaluation only, no interactive shell.")
		outputJSON    = flag.Bool("json", false, "Print output in JSON.")
	)
	flag.Parse()
	c := &client{requestAddr: *requestAddr, broadcastAddr: *broadcastAddr, timeout: *timeout}
	if err := NewShell(c, !*evalOnly, *outputJSON).Run(flag.Args()...); err != nil {
		log.Fatalln(err)
	}
}
