package controllers

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/FelixBrandt/FocusTape/internal/pkg/env"
)

// HandleEntitlementSweep runs the scheduled full-population reconciliation.
// The scheduler authenticates with a shared secret in the X-Cron-Secret
// header.
func HandleEntitlementSweep(c *fiber.Ctx) error {
	secret := strings.TrimSpace(env.GetEnv("CRON_SECRET", ""))
	if secret == "" {
		log.Error("CRON_SECRET is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "configuration_error", "message": "Server not configured"})
	}

	provided := strings.TrimSpace(c.Get("X-Cron-Secret"))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid cron secret"})
	}

	report, err := sweeper.Run(c.Context())
	if err != nil {
		log.Errorf("entitlement sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep_failed", "message": "Sweep failed"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Entitlement sweep completed",
		"results": fiber.Map{
			"runId":         report.RunID,
			"totalChecked":  report.Checked,
			"valid":         report.Valid,
			"fixed":         report.Fixed,
			"lifetimeUsers": report.LifetimeUsers,
			"monthlyUsers":  report.MonthlyUsers,
			"errorsCount":   len(report.Errors),
			"invalidUsers":  report.InvalidUsers,
		},
	})
}
