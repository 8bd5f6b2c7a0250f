package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"studysync-collab/collab"
	"studysync-collab/core"
	"studysync-collab/handlers/api/comments"
	"studysync-collab/handlers/api/state"
	"studysync-collab/handlers/websocket"
	"studysync-collab/stores"
)

func setupRouter(store core.StateStore, registry *collab.Registry, relay *collab.Relay) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "[::1]":
					return true
				}
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms := registry.Rooms()
		sort.Slice(rooms, func(i, j int) bool {
			if rooms[i].Participants == rooms[j].Participants {
				if rooms[i].Kind == rooms[j].Kind {
					return rooms[i].ArtifactID < rooms[j].ArtifactID
				}
				return rooms[i].Kind < rooms[j].Kind
			}
			return rooms[i].Participants > rooms[j].Participants
		})
		render.JSON(w, r, rooms)
	})

	r.Route("/api/whiteboards/{artifactID}", func(r chi.Router) {
		r.Get("/state", state.HandleGet(store))
		r.Put("/state", state.HandleSave(store))
	})

	// Checkpoint history needs a backend that keeps one; only sqlite does.
	if lister, ok := store.(state.CheckpointLister); ok {
		r.Get("/api/whiteboards/{artifactID}/checkpoints", state.HandleListCheckpoints(lister))
		logrus.Info("Checkpoint history routes registered")
	} else {
		logrus.Warn("Checkpoint history not available - requires SQLite storage")
	}

	r.Post("/api/documents/{artifactID}/comments/notify", comments.HandleNotify(relay))

	return r
}

func waitForShutdown(srv *http.Server, ioo *socketio.Server) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-sigC

	logrus.Info("Shutting down...")
	ioo.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("forced shutdown")
	}
}

func main() {
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, relying on environment")
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	store := stores.GetStore()

	registry := collab.NewRegistry()
	presence := collab.NewPresence(registry)
	relay := collab.NewRelay(registry)
	whiteboard := collab.NewSynchronizer(registry, store, collab.DefaultDebounce)

	r := setupRouter(store, registry, relay)

	gateway := websocket.NewGateway(registry, presence, relay, whiteboard)
	ioo := gateway.SetupSocketIO()
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddr, Handler: r}

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(srv, ioo)
}
