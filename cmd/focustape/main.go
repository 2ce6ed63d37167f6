package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/FelixBrandt/FocusTape/app/controllers"
	"github.com/FelixBrandt/FocusTape/internal/pkg/billing"
	"github.com/FelixBrandt/FocusTape/internal/pkg/cache"
	"github.com/FelixBrandt/FocusTape/internal/pkg/database"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
	"github.com/FelixBrandt/FocusTape/internal/pkg/env"
	"github.com/FelixBrandt/FocusTape/internal/pkg/mail"
	"github.com/FelixBrandt/FocusTape/internal/pkg/notify"
	"github.com/FelixBrandt/FocusTape/internal/pkg/router"
	"github.com/FelixBrandt/FocusTape/internal/pkg/viewtracker"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()

	store := cache.NewStoreFromEnv()
	dirClient := directory.NewClientFromEnv()

	provider, err := billing.NewStripeProviderFromEnv()
	if err != nil {
		log.Fatalf("stripe provider setup failed: %v", err)
	}

	resolver := billing.NewResolver(store, provider, dirClient)
	service := billing.NewService(provider, dirClient, resolver)
	repo := billing.NewRepository(database.GetDB())

	sweeper := billing.NewSweeper(service, provider, dirClient, repo, notify.NewNtfyFromEnv())
	sweeper.AdminEmail = env.GetEnv("ADMIN_EMAIL", "")
	sweeper.SendMail = mail.SendMail

	tracker := viewtracker.New(store)

	controllers.Setup(service, repo, sweeper, tracker, dirClient)

	app := fiber.New(fiber.Config{
		AppName: "FocusTape",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
