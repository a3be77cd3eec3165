package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/config"
	natsjs "github.com/Martian-dev/mailsync/internal/nats"
	"github.com/Martian-dev/mailsync/internal/providers/gmail"
	"github.com/Martian-dev/mailsync/internal/providers/outlook"
	"github.com/Martian-dev/mailsync/internal/store"
	"github.com/Martian-dev/mailsync/internal/sync"
)

var jwtSecret = []byte(os.Getenv("MAILSYNC_JWT_SECRET"))

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type StartSyncRequest struct {
	Provider string `json:"provider" binding:"required"`
	InboxID  string `json:"inbox_id" binding:"required"`
	UserJWT  string `json:"user_jwt" binding:"required"`
}

type StopSyncRequest struct {
	Provider string `json:"provider" binding:"required"`
	InboxID  string `json:"inbox_id" binding:"required"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataRoot, 0755); err != nil {
		log.Fatal(err)
	}

	authDB, err := sql.Open("sqlite3", filepath.Join(cfg.DataRoot, "auth.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer authDB.Close()

	authService, err := auth.NewService(authDB)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}
	authClient := auth.NewTokenClient(cfg.AuthServerURL)

	publisher, err := natsjs.NewPublisher(cfg.NatsURL)
	if err != nil {
		log.Fatalf("connect NATS: %v", err)
	}
	defer publisher.Close()

	fetchFlags := sync.FetchFlags{
		WantHeaders: cfg.Fetch.Headers,
		WantBody:    cfg.Fetch.Body,
		WantLabels:  cfg.Fetch.Labels,
	}

	factory := func(ctx context.Context, token *auth.Token, userID string, provider sync.ProviderName) (sync.ProviderAdapter, error) {
		switch provider {
		case sync.ProviderGoogle:
			return gmail.New(ctx, token, fetchFlags)
		case sync.ProviderMicrosoft:
			return outlook.New(ctx, token, userID, fetchFlags, cfg.MaxResults)
		default:
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
	}

	manager := sync.NewManager(cfg.DataRoot, authClient, publisher, factory, cfg.PollInterval, cfg.MaxResults, cfg.BatchSize, log)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer manager.StopAll()

	r := gin.Default()

	// Register endpoint
	r.POST("/register", func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := authService.Register(req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, user)
	})

	// Login endpoint
	r.POST("/login", func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := authService.Authenticate(req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":      user.Username,
			"username": user.Username,
			"exp":      time.Now().Add(time.Hour * 24).Unix(),
		})

		tokenString, err := token.SignedString(jwtSecret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token": tokenString,
			"user":  user,
		})
	})

	authorized := r.Group("/")
	authorized.Use(authMiddleware(cfg.JwksURL, log))

	// Start sync for a user inbox
	authorized.POST("/syncs", func(c *gin.Context) {
		var req StartSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := c.GetString("user_id")
		err := manager.StartSync(rootCtx, sync.InboxConfig{
			UserID:   userID,
			InboxID:  req.InboxID,
			Provider: sync.ProviderName(req.Provider),
			UserJWT:  req.UserJWT,
		})
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
	})

	// Stop sync for a user inbox
	authorized.DELETE("/syncs", func(c *gin.Context) {
		var req StopSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := c.GetString("user_id")
		if err := manager.StopSync(userID, req.InboxID, sync.ProviderName(req.Provider)); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})

	// List running syncs
	authorized.GET("/syncs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"running": manager.GetRunningSyncs()})
	})

	// Query synced messages
	authorized.GET("/messages", func(c *gin.Context) {
		userID := c.GetString("user_id")

		userStore, err := store.NewUserStore(filepath.Join(cfg.DataRoot, "users"), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer userStore.Close()

		messages, err := userStore.GetMessages(c.Query("provider"), c.Query("include_deleted") == "true", 200)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, messages)
	})

	log.Infof("listening on %s", cfg.ListenAddr)
	log.Fatal(r.Run(cfg.ListenAddr))
}

// authMiddleware authenticates requests. With a JWKS URL configured,
// tokens are verified against the external auth server's key set;
// otherwise the local HS256 secret from /login is used.
func authMiddleware(jwksURL string, log *logrus.Logger) gin.HandlerFunc {
	if jwksURL != "" {
		verifier, err := auth.NewVerifier(jwksURL)
		if err != nil {
			log.Fatalf("init JWT verifier: %v", err)
		}
		return func(c *gin.Context) {
			ident, err := verifier.IdentityFromRequest(c.Request)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				c.Abort()
				return
			}
			c.Set("user_id", ident.ID)
			c.Next()
		}
	}

	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return jwtSecret, nil
		})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			c.Set("user_id", claims["sub"].(string))
			c.Next()
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
		}
	}
}
