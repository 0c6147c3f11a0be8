/*
Package evnet provides an embedded, event-driven networking runtime for Go.

Evnet lets an application author a single event handler and serve multiple
wire protocols concurrently over one cooperative loop: a connection manager
owns listeners and established connections, a non-blocking I/O driver
multiplexes their sockets, and protocol state machines parse HTTP/1.1,
WebSocket frames and MQTT 3.1.1 control packets straight out of
per-connection byte buffers.

Features

  - Single-threaded cooperative loop: one goroutine calls Poll, all
    handlers, parsers and timers run on it
  - I/O multiplexing: epoll (Linux) and kqueue (BSD/macOS)
  - Protocol support: HTTP/1.1 (chunked, SSE, static serving), WebSocket,
    MQTT 3.1.1, SNTP
  - Grow-on-write byte buffers with high/low-water backpressure
  - Timer wheel serviced inside the poll loop
  - Thread-safe wakeup channel for offloading work to background workers
  - Pluggable TLS hook points and asynchronous DNS resolution

Quick Start

Basic usage example:

	package main

	import (
	    "github.com/evnet-io/evnet/app"
	    "github.com/evnet-io/evnet/config"
	    "github.com/evnet-io/evnet/core"
	)

	func main() {
	    cfg := config.New()
	    application, err := app.New(cfg)
	    if err != nil {
	        panic(err)
	    }

	    mgr := application.Manager()
	    mgr.Listen(cfg.Listen, func(c *core.Conn, ev core.Event, data any) {
	        if ev == core.EvHTTPMsg {
	            c.Reply(200, "", []byte("Hello, World!"))
	        }
	    })

	    application.Run()
	}

Modules

The runtime is organized into several modules:

  - app: Application lifecycle around the poll loop
  - config: Configuration loading and dynamic settings
  - core: Manager, connections, dispatcher, I/O driver, timers, wakeup
  - core/buffer: Receive/send byte buffers
  - core/poller: I/O multiplexing (epoll/kqueue)
  - core/pools: Byte pools and the background worker pool
  - core/http: HTTP/1.1 parser, response framers, static serving
  - core/websocket: Upgrade handshake and frame codec
  - core/mqtt: MQTT 3.1.1 packet codec

Threading

Exactly one goroutine calls Manager.Poll; every callback runs there.
The only cross-thread operation is Manager.Wakeup(id, payload), which
delivers an EvWakeup event on the loop. Other goroutines hold connection
ids, never connection pointers.
*/
package evnet
