package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-client/internal/call"
	"chat-client/internal/chat"
	"chat-client/internal/db"
	grpcclient "chat-client/internal/grpc"
	"chat-client/internal/handlers"
	"chat-client/internal/media"
	"chat-client/internal/middleware"
	"chat-client/internal/models"
	"chat-client/internal/notify"
	"chat-client/internal/observability"
	"chat-client/internal/rabbitmq"
	"chat-client/internal/realtime"
	"chat-client/internal/repositories"
	"chat-client/internal/restclient"
	"chat-client/internal/sessions"
	"chat-client/internal/signaling"
	"chat-client/internal/telemetry"
	"chat-client/internal/ws"
)

const serviceName = "chat-client"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	environment := getEnv("ENVIRONMENT", "dev")
	localUserID := getEnv("LOCAL_USER_ID", "")
	if localUserID == "" {
		log.Fatalf("LOCAL_USER_ID is required")
	}
	token := getEnv("EVENT_CHANNEL_TOKEN", "")

	shutdownTracing, err := telemetry.InitTracing(ctx, serviceName, environment, getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	publisher := rabbitmq.NewPublisher(getEnv("AMQP_URL", ""), getEnv("AMQP_EXCHANGE", "chat_client.events"))
	defer publisher.Close()
	log.Printf("publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, getEnv("AUDIT_ROUTING_KEY", "audit.chat_client"), serviceName, environment, localUserID)

	sessionRepo, closeRepo := openSessionRepo(getEnv("SESSION_STORE", "pebble"), getEnv("SESSION_STORE_PATH", "chat-client-sessions"))
	defer closeRepo()

	hub := ws.NewHub()
	focus := sessions.NewFocus()
	registry := sessions.NewRegistry(sessionRepo, focus, sessions.WithChangeHook(func(list []models.ChatSession) {
		visible, overflow := visibleSessions(list)
		hub.BroadcastSessions(list, visible, overflow)
		_ = observability.PublishEvent(context.Background(), observability.RoutingSessionChanged,
			observability.NewEnvelope("session_events", "sessions_changed", map[string]interface{}{
				"open":     len(list),
				"overflow": overflow,
			}), nil)
	}))

	directoryConn, err := grpcclient.Dial(getEnv("DIRECTORY_GRPC_ADDR", "localhost:8085"))
	if err != nil {
		log.Fatalf("failed to connect to directory grpc: %v", err)
	}
	defer directoryConn.Close()
	directory := grpcclient.NewDirectoryClient(directoryConn)

	notifier := notify.Multi{notify.LogNotifier{}, ws.NewNotifier(hub)}
	gate := notify.NewGate(localUserID, focus, registry, directory, notifier, getDuration("NOTIFICATION_DISMISS_AFTER", 5*time.Second))

	provider := realtime.NewProvider(realtime.Config{
		URL:   getEnv("EVENT_CHANNEL_URL", "ws://localhost:8083/ws/events"),
		Token: token,
	})
	defer provider.Close()
	states := provider.WatchState()
	defer states.Cancel()
	go func() {
		for state := range states.C() {
			hub.BroadcastChannelState(state.String())
		}
	}()
	go provider.Run(ctx)

	api := restclient.New(getEnv("API_BASE_URL", "http://localhost:8083"), token, nil)
	client := chat.NewClient(localUserID, provider, api, api, gate, focus, chat.WithStreamHook(hub.BroadcastStream))
	go client.Run(ctx)

	store, closeStore := openSignalingStore(getEnv("SIGNALING_BACKEND", "memory"), getEnv("DB_DSN", ""))
	defer closeStore()

	peers := media.NewPeerFactory(splitList(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")))
	source := media.SampleSource{StreamID: localUserID, Video: getEnv("CALL_VIDEO", "true") == "true"}
	observers := []call.Option{
		call.WithObserver(hub.BroadcastCall),
		call.WithObserver(audit.ObserveCall),
		call.WithObserver(publishCallStatus),
	}
	phone := call.NewPhone(
		call.NewCaller(localUserID, store, source, peers, observers...),
		call.NewCallee(localUserID, store, source, peers, observers...),
	)
	go func() {
		if err := phone.Listen(ctx); err != nil && ctx.Err() == nil {
			log.Printf("incoming call watch stopped: %v", err)
		}
	}()

	router := gin.New()

	// middlewares
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authorized := router.Group("/", middleware.AuthMiddleware(getEnv("CONTROL_TOKEN", "")))
	handlers.Register(authorized, handlers.NewSessionHandler(registry, focus), handlers.NewRoomHandler(client), handlers.NewCallHandler(phone, audit))

	uiWS := ws.NewUIWebSocketHandler(hub, focus, func() []ws.Event {
		list := registry.List()
		visible, overflow := registry.Visible()
		events := []ws.Event{
			{Type: ws.EventSessions, Sessions: list, Visible: visible, Overflow: overflow},
			{Type: ws.EventChannelState, State: provider.State().String()},
		}
		if current, ok := phone.Current(); ok {
			events = append(events, ws.Event{Type: ws.EventCall, Call: &current})
		}
		return events
	})
	authorized.GET("/ws/events", uiWS.Handle)

	handlers.RegisterDebugRoutes(authorized, audit, func() string { return provider.State().String() }, environment == "dev")

	port := getEnv("PORT", "8090")
	go func() {
		if err := router.Run(":" + port); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("chat client listening port=%s user_id=%s", port, localUserID)

	<-ctx.Done()
	log.Printf("shutting down")
	_ = phone.HangUp(context.Background())
	client.Close()
}

func openSessionRepo(kind, path string) (repositories.SessionRepository, func()) {
	switch kind {
	case "sqlite":
		database, err := repositories.OpenSQLite(path + ".db")
		if err != nil {
			log.Fatalf("failed to open session store: %v", err)
		}
		return repositories.NewSQLiteSessionRepo(database), func() { _ = database.Close() }
	case "memory":
		return repositories.NewMemorySessionRepo(nil), func() {}
	default:
		database, err := repositories.OpenPebble(path, nil)
		if err != nil {
			log.Fatalf("failed to open session store: %v", err)
		}
		return repositories.NewPebbleSessionRepo(database), func() { _ = database.Close() }
	}
}

func openSignalingStore(backend, dsn string) (signaling.Store, func()) {
	if backend != "postgres" {
		log.Printf("signaling backend=memory")
		return signaling.NewMemoryStore(), func() {}
	}
	database, err := db.Connect(dsn)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	store, err := signaling.NewPostgresStore(database, dsn)
	if err != nil {
		log.Fatalf("failed to start signaling store: %v", err)
	}
	log.Printf("signaling backend=postgres")
	return store, func() {
		_ = store.Close()
		_ = database.Close()
	}
}

func publishCallStatus(s models.CallSession) {
	_ = observability.PublishEvent(context.Background(), observability.RoutingCallStatus,
		observability.NewEnvelope("call_events", "call_"+string(s.Status), map[string]interface{}{
			"call_id":    s.CallID,
			"role":       s.Role,
			"peer_id":    s.PeerID,
			"end_reason": s.EndReason,
		}), nil)
}

// visibleSessions mirrors Registry.Visible for a snapshot handed to the change
// hook, which must not call back into the registry.
func visibleSessions(list []models.ChatSession) ([]models.ChatSession, int) {
	start := 0
	if len(list) > sessions.MaxVisible {
		start = len(list) - sessions.MaxVisible
	}
	return list[start:], start
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
