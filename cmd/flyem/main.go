package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rookgm/flyem/config"
	"github.com/rookgm/flyem/internal/auth"
	"github.com/rookgm/flyem/internal/events"
	"github.com/rookgm/flyem/internal/fulfillment"
	handler "github.com/rookgm/flyem/internal/handler/http"
	"github.com/rookgm/flyem/internal/lock"
	"github.com/rookgm/flyem/internal/logger"
	"github.com/rookgm/flyem/internal/middleware"
	"github.com/rookgm/flyem/internal/models"
	"github.com/rookgm/flyem/internal/notify"
	"github.com/rookgm/flyem/internal/payment"
	"github.com/rookgm/flyem/internal/repository"
	"github.com/rookgm/flyem/internal/repository/postgres"
	"github.com/rookgm/flyem/internal/service"
	"github.com/rookgm/flyem/internal/worker"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	lockTTL         = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {

	// create new config
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer logger.Log.Sync()

	// create context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		logger.Log.Fatal("JWT_SECRET is not set")
	}

	pricing, err := newPricing(cfg)
	if err != nil {
		logger.Log.Fatal("Error parsing pricing", zap.Error(err))
	}

	// initialize database
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Log.Fatal("Error initializing database", zap.Error(err))
	}
	defer db.Close()

	// migrate database
	if err := db.Migrate(); err != nil {
		logger.Log.Fatal("Error migrating database", zap.Error(err))
	}

	token := auth.NewAuthToken([]byte(cfg.JWTSecret))
	checkers := []handler.Checker{db}

	// dependency injection
	// user
	userRepo := repository.NewUserRepository(db)
	userService := service.NewUserService(userRepo, token)
	userHandler := handler.NewUserHandler(userService, token.TTL())

	// payment
	gateway := payment.NewRazorpay(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.OutboundTimeout)
	paymentHandler := handler.NewPaymentHandler(gateway)

	// coupon
	couponService := service.NewCouponService(repository.NewCouponRepository(db))
	couponHandler := handler.NewCouponHandler(couponService)

	// order
	opts := []service.OrderOption{
		service.WithPricing(pricing),
		service.WithCustomers(userRepo),
	}

	if cfg.FulfillmentEnabled() {
		opts = append(opts, service.WithFulfiller(
			fulfillment.NewClient(cfg.QikinkBaseURL, cfg.QikinkClientID, cfg.QikinkClientSecret, cfg.OutboundTimeout)))
	} else {
		logger.Log.Info("Fulfillment sync is disabled")
	}

	if cfg.ResendAPIKey != "" {
		opts = append(opts, service.WithNotifier(notify.NewMailer(cfg.ResendAPIKey, cfg.EmailFrom, cfg.OutboundTimeout)))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.OutboundTimeout)
		if err != nil {
			logger.Log.Fatal("Error initializing kafka publisher", zap.Error(err))
		}
		defer publisher.Close()
		opts = append(opts, service.WithEvents(publisher))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		locker := lock.NewRedisLocker(rdb, lockTTL)
		opts = append(opts, service.WithLocker(locker))
		checkers = append(checkers, locker)
	}

	orderService := service.NewOrderService(repository.NewOrderRepository(db), gateway, couponService, opts...)
	orderHandler := handler.NewOrderHandler(orderService)

	if cfg.ReconcileInterval > 0 && cfg.FulfillmentEnabled() {
		go worker.NewFulfillmentReconciler(orderService, cfg.ReconcileInterval).Run(ctx)
	}

	router := chi.NewRouter()

	router.Use(middleware.Logging(logger.Log))

	router.Get("/healthz", handler.Health(checkers...))

	router.Post("/api/users/register", userHandler.RegisterUser())
	router.Post("/api/users/login", userHandler.LoginUser())
	router.Get("/api/payment/key", paymentHandler.GetKey())
	router.Post("/api/coupons/validate", couponHandler.ValidateCoupon())

	// routes that require authentication
	router.Group(func(group chi.Router) {
		group.Use(middleware.Auth(token))

		group.Post("/api/payment/create-order", paymentHandler.CreateOrder())
		group.Post("/api/payment/verify", paymentHandler.VerifyPayment())

		group.Post("/api/orders", orderHandler.PlaceOrder())
		group.Get("/api/orders/myorders", orderHandler.GetMyOrders())
		group.Get("/api/orders/{id}", orderHandler.GetOrder())
		group.Put("/api/orders/{id}/cancel", orderHandler.CancelOrder())
		group.Put("/api/orders/{id}/pay", orderHandler.PayOrder())

		// admin routes
		group.Group(func(admin chi.Router) {
			admin.Use(middleware.Authorize(models.RoleOrders))

			admin.Get("/api/orders", orderHandler.GetOrders())
			admin.Put("/api/orders/{id}/status", orderHandler.UpdateStatus())
			admin.Post("/api/orders/{id}/fulfillment", orderHandler.SyncFulfillment())
		})
	})

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Error shutting down server", zap.Error(err))
		}
	}()

	logger.Log.Info("Running server", zap.String("addr", cfg.ServerAddr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatal("Error starting server", zap.Error(err))
	}
}

// newPricing parses tax rate and shipping price from config
func newPricing(cfg *config.Config) (service.Pricing, error) {
	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return service.Pricing{}, err
	}

	shipping, err := decimal.NewFromString(cfg.ShippingPrice)
	if err != nil {
		return service.Pricing{}, err
	}

	return service.Pricing{TaxRate: taxRate, ShippingPrice: shipping}, nil
}
