package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/clinsim/virtual-patient-api/handlers"
	"github.com/clinsim/virtual-patient-api/logger"
	"github.com/clinsim/virtual-patient-api/middleware"
	"github.com/clinsim/virtual-patient-api/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	appLogger, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		log.Fatal(err)
	}
	defer appLogger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(os.Getenv("MONGODB_URI")))
	if err != nil {
		appLogger.Fatal("cannot connect to MongoDB", "error", err)
	}
	defer client.Disconnect(context.Background())

	if err := ensureIndexes(ctx, client); err != nil {
		appLogger.Fatal("cannot create indexes", "error", err)
	}

	aiClient, err := services.NewAIClient(appLogger)
	if err != nil {
		appLogger.Fatal("cannot configure AI client", "error", err)
	}

	app := fiber.New()

	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		origins = "http://localhost:8080"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PUT,DELETE",
		AllowHeaders:     "Content-Type,Authorization",
		AllowCredentials: true,
	}))

	h := handlers.NewHandler(client, aiClient, appLogger)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Virtual Patient Simulation API is running!")
	})

	// Public routes
	auth := app.Group("/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)

	sim := app.Group("/simulation")
	sim.Get("/cases", h.GetCases)
	sim.Get("/case-categories", h.GetCaseCategories)
	sim.Post("/start", h.StartSimulation)
	sim.Get("/ask", h.HandleAsk)
	sim.Post("/end", h.EndSession)

	// Protected routes
	users := app.Group("/users", middleware.Auth)
	users.Post("/queue/session/start", h.StartQueueSession)
	users.Post("/queue/session/:sessionId/next", h.GetNextCaseInQueue)
	users.Post("/cases/:originalCaseIdString/status", h.MarkCaseStatus)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5001"
	}
	appLogger.Info("server listening", "port", port)
	appLogger.Fatal("server stopped", "error", app.Listen(":"+port))
}

// ensureIndexes creates the indexes the progress and queue invariants
// depend on: the unique composite progress key and the 24h TTL on queue
// sessions.
func ensureIndexes(ctx context.Context, client *mongo.Client) error {
	db := client.Database(os.Getenv("DATABASE_NAME"))

	_, err := db.Collection("user_case_progress").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "userId", Value: 1},
				{Key: "originalCaseIdString", Value: 1},
				{Key: "filterContextHash", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "userId", Value: 1},
				{Key: "filterContextHash", Value: 1},
				{Key: "status", Value: 1},
			},
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("user_queue_sessions").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "filterContextHash", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(24 * 60 * 60),
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("cases").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "case_metadata.case_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "case_metadata.program_area", Value: 1}}},
		{Keys: bson.D{{Key: "case_metadata.specialized_area", Value: 1}}},
	})
	return err
}
