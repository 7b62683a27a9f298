// Command wlecho stands up a display server advertising a single demo
// global, connects a client to it, binds the global, sends one request,
// and waits for the matching event to echo back. It exercises the
// bind/request/event path end to end over a real Unix socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/CSRedRat/wayland/internal/client"
	"github.com/CSRedRat/wayland/internal/dispatch"
	"github.com/CSRedRat/wayland/internal/echoproto"
	"github.com/CSRedRat/wayland/internal/logging"
	"github.com/CSRedRat/wayland/internal/registry"
	"github.com/CSRedRat/wayland/internal/server"
	"github.com/CSRedRat/wayland/internal/wlproto"
)

func main() {
	logging.ConfigureRuntime()

	var message string
	flag.StringVar(&message, "message", "hello, wayland", "message to echo")
	flag.Parse()

	if err := run(message); err != nil {
		fmt.Fprintf(os.Stderr, "wlecho: %v\n", err)
		os.Exit(1)
	}
}

func run(message string) error {
	srv := server.New()
	srv.AddGlobal(echoproto.Echo.Name, echoproto.Echo.Version, bindEcho)

	socketName := fmt.Sprintf("wlecho-%d", os.Getpid())
	path, err := srv.AddSocket(socketName)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)
	defer srv.Close()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- srv.Run(stop) }()
	defer close(stop)

	os.Setenv("WAYLAND_DISPLAY", socketName)
	c, err := client.Connect()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if _, err := c.Roundtrip(); err != nil {
		return fmt.Errorf("initial roundtrip: %w", err)
	}

	var name uint32
	for _, g := range c.Globals() {
		if g.Interface == echoproto.Echo.Name {
			name = g.Name
		}
	}
	if name == 0 {
		return fmt.Errorf("server never advertised %s", echoproto.Echo.Name)
	}

	id, err := c.Bind(name, echoproto.Echo.Name, echoproto.Echo.Version, echoproto.Echo)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	reply := make(chan string, 1)
	if err := c.AddListener(id, dispatch.HandlerTable{
		echoproto.EventMessage: func(_ uint32, args []wlproto.Arg) error {
			reply <- args[0].String
			return nil
		},
	}); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if _, err := c.Send(id, echoproto.RequestSend, "s", []wlproto.Arg{wlproto.ArgString(message)}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-reply:
			fmt.Println(got)
			return nil
		case <-deadline:
			return fmt.Errorf("timed out waiting for echo")
		default:
			if c.Fatal() {
				return fmt.Errorf("client connection entered the fatal-error state")
			}
			if _, err := c.Iterate(); err != nil {
				return fmt.Errorf("iterate: %w", err)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func bindEcho(sc *server.Client, g registry.Global, id uint32) error {
	if err := sc.SetInterface(id, echoproto.Echo); err != nil {
		return err
	}
	sc.SetDestroyHook(id, func() {
		log.Debug().Uint32("id", id).Msg("wlecho: echo resource destroyed")
	})
	return sc.AddHandlers(id, dispatch.HandlerTable{
		echoproto.RequestSend: func(receiver uint32, args []wlproto.Arg) error {
			log.Debug().Str("message", args[0].String).Msg("wlecho: server received send")
			return sc.PostEvent(receiver, echoproto.EventMessage, "s", []wlproto.Arg{args[0]})
		},
	})
}
