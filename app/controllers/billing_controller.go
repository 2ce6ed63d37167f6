package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/FelixBrandt/FocusTape/app/models"
	"github.com/FelixBrandt/FocusTape/internal/pkg/billing"
	"github.com/FelixBrandt/FocusTape/internal/pkg/directory"
	"github.com/FelixBrandt/FocusTape/internal/pkg/env"
)

// HandleStripeWebhook receives payment-provider lifecycle events. The
// signature is verified against the raw body before anything is trusted;
// verification failure fails closed. Events are persisted idempotently so
// at-least-once delivery and replays are safe.
func HandleStripeWebhook(c *fiber.Ctx) error {
	secret := strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
	if secret == "" {
		log.Error("STRIPE_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "configuration_error", "message": "Webhook secret not configured"})
	}

	payload := c.Body()
	sig := c.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Missing Stripe signature"})
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warnf("webhook signature verification failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
	}

	var stored *models.WebhookEvent
	if billingRepo != nil {
		created, record, err := billingRepo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
			ProviderEventID: event.ID,
			EventType:       string(event.Type),
			PayloadJSON:     string(payload),
			SignatureValid:  true,
		})
		if err != nil {
			log.Errorf("could not persist webhook event %s: %v", event.ID, err)
		} else if !created && record.ProcessedAt != nil && record.ProcessingError == "" {
			// Already handled; acknowledge the redelivery.
			return c.JSON(fiber.Map{"received": true})
		} else {
			stored = record
		}
	}

	processErr := billingService.ProcessWebhookEvent(c.Context(), &event)
	if billingRepo != nil && stored != nil {
		errMsg := ""
		if processErr != nil {
			errMsg = processErr.Error()
		}
		if err := billingRepo.MarkWebhookProcessed(stored.ID, errMsg); err != nil {
			log.Errorf("could not mark webhook event %d processed: %v", stored.ID, err)
		}
	}
	if processErr != nil {
		log.Errorf("webhook event %s (%s) processing failed: %v", event.ID, event.Type, processErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed", "message": "Event processing failed"})
	}

	return c.JSON(fiber.Map{"received": true})
}

// HandleRefreshEntitlement is the synchronous, user-triggered refresh. The
// authenticated user id arrives in the X-User-ID header.
func HandleRefreshEntitlement(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get("X-User-ID"))
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	result, err := billingService.RefreshUser(c.Context(), userID)
	if err != nil {
		return mapBillingError(c, err, "Failed to refresh entitlement")
	}
	return c.JSON(result)
}

type confirmCheckoutRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// HandleConfirmCheckout applies a completed checkout session to the buyer.
func HandleConfirmCheckout(c *fiber.Ctx) error {
	var req confirmCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": "Invalid JSON body"})
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "sessionId is required"})
	}

	result, err := billingService.ConfirmCheckout(
		c.Context(),
		req.SessionID,
		strings.TrimSpace(c.Get("X-User-ID")),
		strings.TrimSpace(c.Get("X-User-Email")),
	)
	if err != nil {
		return mapBillingError(c, err, "Failed to confirm checkout")
	}
	return c.JSON(fiber.Map{
		"ok":               true,
		"userId":           result.UserID,
		"stripeCustomerId": result.StripeCustomerID,
		"paymentType":      result.PaymentType,
		"subscriptionId":   result.SubscriptionID,
	})
}

// HandleEntitlementStatus is a read-only diagnostic comparing the stored
// document against the payment provider.
func HandleEntitlementStatus(c *fiber.Ctx) error {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "email parameter is required"})
	}

	report, err := billingService.StatusForEmail(c.Context(), email)
	if err != nil {
		return mapBillingError(c, err, "Failed to check status")
	}
	return c.JSON(report)
}

func mapBillingError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "configuration_error", "message": "Server not configured"})
	case errors.Is(err, billing.ErrUnresolved), errors.Is(err, directory.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
	case errors.Is(err, billing.ErrNoCustomer):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_customer", "message": "No payment customer on file"})
	default:
		log.Errorf("%s: %v", message, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_unavailable", "message": message})
	}
}
