// cmd/api/main.go
// Main entry point for the realtime API
// This file bootstraps all components and starts the server

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imadgeboyega/kiekky-realtime/internal/auth"
	"github.com/imadgeboyega/kiekky-realtime/internal/calls"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/database"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
	"github.com/imadgeboyega/kiekky-realtime/internal/config"
	"github.com/imadgeboyega/kiekky-realtime/internal/gateway"
	"github.com/imadgeboyega/kiekky-realtime/internal/media"
	"github.com/imadgeboyega/kiekky-realtime/internal/messaging"
	"github.com/imadgeboyega/kiekky-realtime/internal/notification"
	"github.com/imadgeboyega/kiekky-realtime/internal/users"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting Kiekky Realtime API")
	log.Println("========================================")

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load configuration
	log.Println("\n📋 Step 2: Loading configuration...")
	cfg := config.Load()
	log.Printf("✅ Configuration loaded (environment: %s)", cfg.Environment)

	// 3. Validate configuration
	log.Println("\n✔️  Step 3: Validating configuration...")
	if err := cfg.Validate(); err != nil {
		log.Fatal("❌ Configuration validation failed:", err)
	}
	log.Println("✅ Configuration is valid")

	// 4. Connect to the database
	log.Printf("\n🗄️  Step 4: Connecting to %s...", cfg.DatabaseDriver)
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("❌ Failed to connect to database:", err)
	}
	defer db.Close()
	log.Println("✅ Connected to database successfully")

	// 5. Run database migrations
	log.Println("\n🔨 Step 5: Running database migrations...")
	if err := database.Migrate(context.Background(), db); err != nil {
		log.Fatal("❌ Migration error:", err)
	}
	log.Println("✅ Database migrations completed")

	// 6. Connect to Redis (optional)
	log.Println("\n📮 Step 6: Connecting to Redis...")
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClientFromURL(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  %v, continuing single node without Redis", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			log.Println("✅ Connected to Redis successfully")
		}
	} else {
		log.Println("⚠️  Redis URL not configured, running single node")
	}

	// 7. Initialize core services
	log.Println("\n👤 Step 7: Initializing users, messaging and calls...")
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	authMiddleware := auth.NewMiddleware(verifier)

	usersRepo := users.NewRepository(db)
	presence := users.NewPresenceService(usersRepo, redisClient)

	var mediaPolicy messaging.MediaPolicy = media.OpenPolicy{}
	var mediaStore media.Store
	if cfg.UseS3 {
		awsSession, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWSRegion)})
		if err != nil {
			log.Printf("   ⚠️  AWS session creation failed, media uploads disabled: %v", err)
		} else {
			s3Store := media.NewS3Store(awsSession, cfg.S3BucketName, cfg.MediaCDNURL, cfg.MediaUploadExpiry)
			mediaStore = s3Store
			mediaPolicy = s3Store
			log.Println("   ✅ Using S3 for message media")
		}
	} else {
		log.Println("   ⚠️  S3 not configured, media uploads disabled")
	}

	messagingService := messaging.NewService(messaging.NewPostgresRepository(db), usersRepo, mediaPolicy, messaging.Config{
		EditWindow: cfg.EditWindow,
	})
	callService := calls.NewService(calls.NewPostgresRepository(db), nil)
	log.Println("✅ Core services initialized")

	// 8. Initialize notifications
	log.Println("\n🔔 Step 8: Initializing notifications...")
	channels := notification.Channels{}

	if cfg.FCMCredentialsFile != "" {
		fcm, err := notification.NewFCMPush(context.Background(), cfg.FCMCredentialsFile)
		if err != nil {
			log.Printf("   ⚠️  FCM push disabled: %v", err)
			channels.Push = notification.NewMockPush()
		} else {
			channels.Push = fcm
			log.Println("   ✅ FCM push service initialized")
		}
	} else {
		channels.Push = notification.NewMockPush()
		log.Println("   📝 Using mock push service (development mode)")
	}

	switch cfg.SMSProvider {
	case "twilio":
		twilioSMS, err := notification.NewTwilioSMS(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		if err != nil {
			log.Fatal("❌ Twilio SMS:", err)
		}
		channels.SMS = twilioSMS
		log.Println("   ✅ Using Twilio for SMS")
	default:
		channels.SMS = notification.NewMockSMS()
		log.Println("   📝 Using mock SMS service (development mode)")
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		sendgridEmail, err := notification.NewSendGridEmail(cfg.SendGridAPIKey, cfg.EmailFrom, "Kiekky")
		if err != nil {
			log.Fatal("❌ SendGrid email:", err)
		}
		channels.Email = sendgridEmail
		log.Println("   ✅ Using SendGrid for email")
	default:
		channels.Email = notification.NewMockEmail()
		log.Println("   📝 Using mock email service (development mode)")
	}

	pushTokens := notification.NewTokenRepository(db)
	notifier := notification.NewDispatcher(pushTokens, usersRepo, channels)
	callService.AddListener(notifier)
	log.Println("✅ Notifications initialized")

	// 9. Start the gateway hub
	log.Println("\n💬 Step 9: Starting realtime gateway...")
	var broker gateway.Broker
	if redisClient != nil {
		broker = gateway.NewRedisBroker(redisClient, "")
		log.Println("   ✅ Redis Pub/Sub fan-out enabled")
	}
	hub := gateway.NewHub(broker)
	dispatcher := gateway.NewDispatcher(hub, messagingService, callService, presence, usersRepo, notifier)
	wsServer := gateway.NewServer(hub, verifier, dispatcher, messagingService, presence, gateway.ServerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBufferSize: cfg.SendBufferSize,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()
	log.Println("✅ WebSocket hub started")

	// 10. Start the call sweeper
	log.Println("\n⏱️  Step 10: Starting call sweeper...")
	sweeper := calls.NewSweeper(callService, cfg.CallSweepInterval, cfg.RingTimeout, cfg.InitiateTimeout)
	go sweeper.Start(ctx)
	log.Println("✅ Call sweeper started")

	// 11. Routes
	log.Println("\n🛣️  Step 11: Setting up routes...")
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.HandleFunc("/health", healthCheck(db.PingContext, hub)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	gateway.RegisterRoutes(router, wsServer)
	log.Println("   ✅ WebSocket route registered")

	messaging.RegisterRoutes(router, messaging.NewHandler(messagingService), authMiddleware.Authenticate)
	log.Println("   ✅ Messaging routes registered")

	calls.RegisterRoutes(router, calls.NewHandler(callService), authMiddleware.Authenticate)
	log.Println("   ✅ Call routes registered")

	media.RegisterRoutes(router, media.NewHandler(mediaStore), authMiddleware.Authenticate)
	log.Println("   ✅ Media routes registered")

	notification.RegisterRoutes(router, notification.NewHandler(pushTokens), authMiddleware.Authenticate)
	log.Println("   ✅ Push token routes registered")

	// 12. Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Println("\n========================================")
		log.Printf("🚀 Server starting on http://localhost%s", srv.Addr)
		log.Printf("🌍 Environment: %s", cfg.Environment)
		log.Println("========================================")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n⚠️  Shutdown signal received...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("   - Closing websocket connections...")
	stop()
	<-hubDone

	log.Println("   - Waiting for pending notifications...")
	notifier.Wait()

	log.Println("✅ Server exited gracefully")
}

func healthCheck(ping func(context.Context) error, hub *gateway.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "healthy"
		code := http.StatusOK
		if err := ping(ctx); err != nil {
			log.Printf("[health] database ping failed: %v", err)
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		utils.RespondWithJSON(w, code, map[string]interface{}{
			"status":      status,
			"service":     "kiekky-realtime",
			"time":        time.Now().UTC().Format(time.RFC3339),
			"connections": hub.GetActiveConnections(),
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		uri := redactedURI(r)
		log.Printf("→ %s %s from %s", r.Method, uri, r.RemoteAddr)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Printf("← %s %s [%d] %v", r.Method, uri, wrapped.statusCode, time.Since(start))
	})
}

// redactedURI masks the token query parameter browsers use for the
// websocket handshake
func redactedURI(r *http.Request) string {
	query := r.URL.Query()
	if _, ok := query["token"]; !ok {
		return r.URL.RequestURI()
	}
	query.Set("token", "REDACTED")
	u := *r.URL
	u.RawQuery = query.Encode()
	return u.RequestURI()
}

// responseWriter captures the status code. It forwards Hijack so the
// websocket upgrade still works behind the logger.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, a := range allowed {
				if a == "*" || a == origin {
					w.Header().Set("Access-Control-Allow-Origin", a)
					break
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
