package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"hati/internal/engine"
	"hati/internal/net"
)

func main() {
	address := flag.String("address", "0.0.0.0", "Listen address")
	port := flag.Int("port", 9001, "Listen port")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the TCP server and the matching engine.
	eng := engine.New()
	srv := net.New(*address, *port, eng)

	go srv.Run(ctx)
	// Block on running the server.
	<-ctx.Done()
}
