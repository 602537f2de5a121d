package cli

import (
	"context"

	"github.com/spf13/cobra"

	"byteme/clients"
	"byteme/consumers"
	"byteme/controllers"
	"byteme/rabbitmq"
	"byteme/repository"
	"byteme/services"
)

// serviceCommand builds a subcommand whose RunE gets a ready app and a
// context cancelled on SIGINT/SIGTERM.
func serviceCommand(name, short string, run func(ctx context.Context, a *app) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(name)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()
			return run(ctx, a)
		},
	}
}

var customerCmd = serviceCommand("customer", "Run the customer service", func(ctx context.Context, a *app) error {
	if err := a.openDB(ctx, repository.CustomerSchema(a.dialect())...); err != nil {
		return err
	}

	customers := services.NewCustomerService(repository.NewCustomerRepository(a.db), a.logger)
	router := controllers.NewRouter(a.health(nil), a.logger, controllers.NewCustomerController(customers))
	return a.run(ctx, router)
})

var cartCmd = serviceCommand("cart", "Run the cart service", func(ctx context.Context, a *app) error {
	if err := a.openDB(ctx, repository.CartSchema(a.dialect())...); err != nil {
		return err
	}

	carts := services.NewCartService(repository.NewCartRepository(a.db), a.logger)
	router := controllers.NewRouter(a.health(nil), a.logger, controllers.NewCartController(carts, a.cfg.Auth.JWTSecret))
	return a.run(ctx, router)
})

var orderCmd = serviceCommand("order", "Run the order service, its outbox relay and consumers", func(ctx context.Context, a *app) error {
	d := a.dialect()
	if err := a.openDB(ctx, append(repository.OrderSchema(d), repository.OutboxSchema(d)...)...); err != nil {
		return err
	}
	if err := a.openBus(ctx); err != nil {
		return err
	}

	orders := services.NewOrderService(repository.NewOrderRepository(a.db), a.cfg.Outbox.PaymentCheckDelay, a.logger)
	relay := services.NewOutboxRelay(a.db, repository.NewOutboxRepository(a.db), a.bus,
		a.cfg.Outbox.PollInterval, a.cfg.Outbox.BatchSize, a.logger)
	orderConsumer := consumers.NewOrderConsumer(orders, a.logger)

	router := controllers.NewRouter(a.health(nil), a.logger, controllers.NewOrderController(orders))
	return a.run(ctx, router,
		func(ctx context.Context) error {
			relay.Run(ctx)
			return nil
		},
		a.consume(orderConsumer.Subscriptions()...),
	)
})

var deliveryCmd = serviceCommand("delivery", "Run the delivery service and its consumer", func(ctx context.Context, a *app) error {
	if err := a.openDB(ctx, repository.DeliverySchema(a.dialect())...); err != nil {
		return err
	}
	if err := a.openBus(ctx); err != nil {
		return err
	}

	deliveries := services.NewDeliveryService(repository.NewDeliveryRepository(a.db), a.logger)
	router := controllers.NewRouter(a.health(nil), a.logger, controllers.NewDeliveryController(deliveries))
	return a.run(ctx, router, a.consume(consumers.Subscription{
		Queue:   rabbitmq.QueueDelivery,
		Tag:     "delivery-service",
		Handler: consumers.DeliveryHandler(deliveries),
	}))
})

var recommendationCmd = serviceCommand("recommendation", "Run the recommendation service", func(ctx context.Context, a *app) error {
	if err := a.openDB(ctx, repository.RecommendationSchema(a.dialect())...); err != nil {
		return err
	}

	recs := services.NewRecommendationService(repository.NewRecommendationRepository(a.db), a.logger)
	router := controllers.NewRouter(a.health(nil), a.logger, controllers.NewRecommendationController(recs))
	return a.run(ctx, router)
})

var paymentCmd = serviceCommand("payment", "Run the Stripe payment service and the refund worker", func(ctx context.Context, a *app) error {
	if err := a.openBus(ctx); err != nil {
		return err
	}

	payments := services.NewPaymentService(services.NewStripeGateway(a.cfg.Stripe), a.bus, a.cfg.Stripe, a.logger)
	stripeState := "configured"
	if a.cfg.Stripe.SecretKey == "" {
		stripeState = "missing key"
	}

	router := controllers.NewRouter(a.health(map[string]string{"stripe": stripeState}), a.logger,
		controllers.NewPaymentController(payments))
	return a.run(ctx, router, a.consume(consumers.Subscription{
		Queue:   rabbitmq.QueueRefundRequest,
		Tag:     "payment-service-refunds",
		Handler: consumers.RefundRequestHandler(payments),
	}))
})

var emailCmd = serviceCommand("email", "Run the email notification service", func(ctx context.Context, a *app) error {
	if err := a.openBus(ctx); err != nil {
		return err
	}

	notifications := services.NewNotificationService(services.NewMailer(a.cfg.Email, a.logger), a.logger)
	sendgrid := "not configured, logging emails"
	if notifications.MailerName() == "sendgrid" {
		sendgrid = "configured"
	}

	router := controllers.NewRouter(a.health(map[string]string{"sendgrid": sendgrid}), a.logger,
		controllers.NewEmailController(notifications))
	return a.run(ctx, router, a.consume(consumers.Subscription{
		Queue:   rabbitmq.QueueEmail,
		Tag:     "email-service",
		Handler: consumers.EmailHandler(notifications),
	}))
})

// remote builds the HTTP clients the orchestrators call.
type remote struct {
	customers       *clients.CustomerClient
	recommendations *clients.RecommendationClient
	orders          *clients.OrderClient
	deliveries      *clients.DeliveryClient
	payments        *clients.PaymentClient
	inventory       *clients.InventoryClient
}

func newRemote(a *app) remote {
	urls := a.cfg.Services
	invoker := func(service, base string) *clients.Invoker {
		return clients.NewInvoker(service, base, urls.Timeout, a.logger)
	}
	return remote{
		customers:       clients.NewCustomerClient(invoker("customer", urls.Customer)),
		recommendations: clients.NewRecommendationClient(invoker("recommendation", urls.Recommendation)),
		orders:          clients.NewOrderClient(invoker("order", urls.Order)),
		deliveries:      clients.NewDeliveryClient(invoker("delivery", urls.Delivery)),
		payments:        clients.NewPaymentClient(invoker("payment", urls.Payment)),
		inventory:       clients.NewInventoryClient(urls.Inventory, urls.Timeout, clients.DefaultBreakerSettings, a.logger),
	}
}

var purchaseCmd = serviceCommand("purchase", "Run the purchase orchestrator", func(ctx context.Context, a *app) error {
	if err := a.openBus(ctx); err != nil {
		return err
	}

	rm := newRemote(a)
	purchases := services.NewPurchaseService(rm.recommendations, rm.customers, rm.inventory, rm.payments, rm.orders,
		a.bus, a.cfg.Stripe.Currency, a.logger)

	router := controllers.NewRouter(a.health(nil), a.logger, controllers.NewPurchaseController(purchases, a.cfg.Auth.JWTSecret))
	return a.run(ctx, router)
})

var refundCmd = serviceCommand("refund", "Run the refund orchestrator", func(ctx context.Context, a *app) error {
	if err := a.openBus(ctx); err != nil {
		return err
	}

	rm := newRemote(a)
	refunds := services.NewRefundService(rm.customers, rm.orders, rm.payments, rm.deliveries, a.bus, a.logger)

	router := controllers.NewRouter(a.health(nil), a.logger, controllers.NewRefundController(refunds, a.cfg.Auth.JWTSecret))
	return a.run(ctx, router)
})

var inventoryCmd = serviceCommand("inventory", "Run the stock worker for the Parts queue", func(ctx context.Context, a *app) error {
	if err := a.openDB(ctx, repository.StockLedgerSchema(a.dialect())...); err != nil {
		return err
	}
	if err := a.openBus(ctx); err != nil {
		return err
	}

	rm := newRemote(a)
	inventory := services.NewInventoryService(rm.inventory, repository.NewStockLedgerRepository(a.db), a.logger)
	a.checks["outsystems"] = func(context.Context) error {
		return rm.inventory.Ready()
	}

	router := controllers.NewRouter(a.health(nil), a.logger)
	return a.run(ctx, router, a.consume(consumers.Subscription{
		Queue:   rabbitmq.QueueParts,
		Tag:     "inventory-worker",
		Handler: consumers.InventoryHandler(inventory),
	}))
})
