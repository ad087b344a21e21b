// Package main runs a small demo server exposing a chat endpoint, a
// one-time pairing endpoint and a raw echo route behind a sockmux.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/aydenstechdungeon/sockmux"
	"github.com/aydenstechdungeon/sockmux/endpoint"
)

func main() {
	addr := flag.String("addr", ":3000", "listen address")
	manifest := flag.String("manifest", "", "optional YAML route manifest")
	flag.Parse()

	mux := sockmux.New(sockmux.Config{
		PublicBase: "ws://localhost" + *addr,
	})

	if *manifest != "" {
		man, err := sockmux.LoadManifest(*manifest)
		if err != nil {
			log.Fatalf("load manifest: %v", err)
		}
		if err := mux.Apply(man); err != nil {
			log.Fatalf("apply manifest: %v", err)
		}
	}

	chatCfg := endpoint.DefaultConfig()
	chatCfg.UseConnectionKeys = false
	chatCfg.IdleTimeout = 5 * time.Minute
	chatCfg.RateLimit = endpoint.RateLimit{Max: 10, Window: time.Minute}
	chat, err := mux.Open("/ws/chat", chatCfg)
	if err != nil {
		log.Fatalf("open /ws/chat: %v", err)
	}
	chat.OnMessage(func(c *endpoint.Conn, messageType int, payload []byte) {
		chat.Broadcast(payload, nil, func(other *endpoint.Conn) bool {
			return other.ID() != c.ID()
		})
	})
	chat.OnDisconnect(func(c *endpoint.Conn, code int, reason string) {
		log.Printf("chat: %s left (%d %s)", c.ID(), code, reason)
	})

	if err := mux.HandleRaw("/ws/echo", websocket.New(func(c *websocket.Conn) {
		for {
			mt, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})); err != nil {
		log.Fatalf("register /ws/echo: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "sockmuxd",
		DisableStartupMessage: false,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	// One-time pairing: each POST mints a fresh single-use endpoint and
	// returns its connect URL plus a scannable QR code.
	app.Post("/pair", func(c *fiber.Ctx) error {
		path := "/ws/pair/" + c.Query("device", "device")
		cfg := endpoint.DefaultConfig()
		cfg.KeyExpiration = 2 * time.Minute
		url, err := mux.OpenOnce(path, func(conn *endpoint.Conn) {
			log.Printf("pair: %s connected on %s", conn.ID(), path)
		}, cfg)
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		qr, err := sockmux.ConnectQRDataURI(url, 256)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"url": url, "qr": qr})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		stats := make(map[string]endpoint.Stats)
		for _, path := range mux.Paths() {
			if ctl := mux.Get(path); ctl != nil {
				stats[path] = ctl.Stats()
			}
		}
		return c.JSON(stats)
	})

	app.Use("/ws", mux.Handler())

	go func() {
		if err := app.Listen(*addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	mux.Clear(5 * time.Second)
	_ = app.Shutdown()
}
