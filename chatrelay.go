package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"ProjChat/global"
	mid "ProjChat/middleware"
	midsec "ProjChat/middleware/security"
	"ProjChat/module/profile"
	"ProjChat/service/chat"
	"ProjChat/service/dispatcher/kafka"
	"ProjChat/service/natsx"
	"ProjChat/service/storage"
	security "ProjChat/tools/security"
	"ProjChat/tools/ids"
)

func main() {
	cfg, err := global.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	ids.SetNodeID(cfg.SnowflakeNode)

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1) Durable store; the relay refuses to start without it.
	store, err := storage.OpenMongo(bootCtx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("mongo open failed: %v", err)
	}
	if err := store.EnsureIndexes(bootCtx); err != nil {
		log.Printf("index ensure failed (continuing): %v", err)
	}

	// 2) Optional cross-node presence mirror.
	var mirror chat.PresenceMirror
	var online *storage.OnlineMirror
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(bootCtx).Err(); err != nil {
			log.Fatalf("redis ping failed: %v", err)
		}
		online = storage.NewOnlineMirror(rdb, storage.OnlineConfig{NodeID: cfg.NodeID, TTL: cfg.OnlineTTL})
		mirror = online
	}

	// 3) Optional inter-node event bus.
	var bus chat.EventBus
	var nm *natsx.Manager
	if cfg.NatsURL != "" {
		nm, err = natsx.NewManager(cfg.NatsURL, cfg.NodeID)
		if err != nil {
			log.Fatalf("nats connect failed: %v", err)
		}
		defer nm.Close()
		bus = nm
	}

	// 4) Optional archive pipeline.
	var archiver chat.Archiver
	if len(cfg.KafkaBrokers) > 0 {
		ka, err := kafka.NewArchiver(kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaArchiveTopic})
		if err != nil {
			log.Fatalf("kafka archiver failed: %v", err)
		}
		defer ka.Close()
		archiver = ka
	}

	// 5) Relay core.
	srv := chat.NewServer(cfg, store, mirror, bus, archiver)

	if nm != nil {
		if err := nm.SubscribeMessages(srv.RemoteBroadcast); err != nil {
			log.Fatalf("nats message subscribe failed: %v", err)
		}
		if err := nm.SubscribePresence(srv.RemotePresence); err != nil {
			log.Fatalf("nats presence subscribe failed: %v", err)
		}
	}

	// Mirror entries age out by TTL; keep them fresh for everything still
	// online on this node.
	if online != nil {
		go func() {
			t := time.NewTicker(cfg.OnlineTTL / 2)
			defer t.Stop()
			for range t.C {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := online.Refresh(ctx, srv.Presence().OnlineKeys()); err != nil {
					log.Printf("online mirror refresh failed: %v", err)
				}
				cancel()
			}
		}()
	}

	// 6) Optional directory.
	var resolver profile.Resolver
	if cfg.PostgresDSN != "" {
		repo, err := profile.OpenPg(bootCtx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("pg open failed: %v", err)
		}
		defer repo.Close()
		resolver = profile.NewCachedResolver(repo, cfg.ProfileCacheTTL)
	}

	jwtOpts := security.DefaultOptions([]byte(cfg.JWTSecret))
	ph := &profile.Handler{JWT: jwtOpts, Resolver: resolver}
	authMW := midsec.Middleware(midsec.Options{JWT: jwtOpts})

	// 7) HTTP + WebSocket.
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/chat", srv.HandleWS) // e.g. ws://localhost:8080/chat
	mid.POST(r, "/login", ph.HandlerLogin, mid.RouteOpt{IsAuth: false}, authMW)
	mid.GET(r, "/profile", ph.HandlerProfile, mid.RouteOpt{IsAuth: true}, authMW)
	mid.GET(r, "/transcript", srv.HandleTranscript, mid.RouteOpt{IsAuth: true}, authMW)
	mid.GET(r, "/status", srv.HandleStatus, mid.RouteOpt{IsAuth: true}, authMW)

	log.Printf("[HTTP] Listening on %s node=%s", cfg.HTTPAddr, cfg.NodeID)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
