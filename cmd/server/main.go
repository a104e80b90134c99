package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/cart"
	"storefront/internal/gateway"
	"storefront/internal/inventory"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	var (
		st     store.Store
		ledger inventory.Ledger
		stocks map[int64]int
	)

	switch cfg.Database.Driver {
	case "postgres":
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		st = pg
		ledger = pg
		log.Println("Database connected")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stocks, err = pg.ListInventory(ctx)
		cancel()
		if err != nil {
			log.Printf("Failed to list inventory for redis sync: %v", err)
		}

	default:
		mem := store.NewMemory()
		memLedger := inventory.NewMemoryLedger()
		stocks = seedDemoData(mem, memLedger)
		st = mem
		ledger = memLedger
		log.Println("In-memory store initialized with demo data")
	}
	defer st.Close()

	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Redis connected")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for productID, available := range stocks {
			if err := redisClient.InitStock(ctx, productID, available); err != nil {
				log.Printf("Failed to sync stock to redis for product %d: %v", productID, err)
			}
		}
		cancel()

		ledger = inventory.NewRedisLedger(redisClient, ledger, logger)
	}

	var sink broker.Sink = broker.NopSink{}
	var producer *broker.Producer
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		sink = producer
		log.Println("Kafka producer initialized")
	}
	eventPublisher := broker.NewEventPublisher(sink)

	paymentGateway := gateway.NewStub(cfg.Business.PaymentSuccessRate)

	cartService := cart.NewService(st, ledger)
	orderService := service.NewOrderService(st, ledger, eventPublisher, cfg.Business.OrdersPageSize)
	paymentService := service.NewPaymentService(st, paymentGateway, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var paymentWorker *worker.PaymentWorker
	if cfg.Kafka.Enabled {
		paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		paymentWorker = worker.NewPaymentWorker(paymentConsumer, paymentService, paymentGateway)
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil {
				log.Printf("Payment worker error: %v", err)
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, orderService, paymentService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if paymentWorker != nil {
		paymentWorker.Stop()
	}

	log.Println("Server exited")
}

// seedDemoData loads a small demo catalog for the memory driver and returns
// the initial stock per product.
func seedDemoData(mem *store.Memory, ledger *inventory.MemoryLedger) map[int64]int {
	mem.AddUser(models.User{ID: 1, Email: "demo@example.com"})

	discounted := decimal.NewFromFloat(899.99)
	products := []struct {
		product models.Product
		stock   int
	}{
		{models.Product{ID: 1, SKU: "LAP-PRO-15", Name: "Laptop Pro 15", Price: decimal.NewFromFloat(1299.99)}, 25},
		{models.Product{ID: 2, SKU: "PHN-X-128", Name: "Phone X 128GB", Price: decimal.NewFromFloat(999.99), DiscountPrice: &discounted}, 50},
		{models.Product{ID: 3, SKU: "HDP-NC-BLK", Name: "Noise Cancelling Headphones", Price: decimal.NewFromFloat(249.50)}, 100},
		{models.Product{ID: 4, SKU: "KBD-MEC-87", Name: "Mechanical Keyboard TKL", Price: decimal.NewFromFloat(89.00)}, 75},
	}

	stocks := make(map[int64]int, len(products))
	for _, p := range products {
		mem.AddProduct(p.product)
		ledger.SetStock(p.product.ID, p.stock)
		stocks[p.product.ID] = p.stock
	}
	return stocks
}
