package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/FelixBrandt/FocusTape/app/models"
	"github.com/FelixBrandt/FocusTape/internal/pkg/metadata"
)

var errCassetteNotFound = errors.New("cassette not found")

const cassetteSearchPageSize = 100

type cassetteEventRequest struct {
	CassetteID string `json:"cassetteId" validate:"required"`
}

// HandleCassetteView counts one view of a public cassette. Each viewer is
// counted once per tracking window; anonymous viewers are ignored.
func HandleCassetteView(c *fiber.Ctx) error {
	return handleCassetteEvent(c, "view")
}

// HandleCassetteClick counts one website click on a public cassette.
func HandleCassetteClick(c *fiber.Ctx) error {
	return handleCassetteEvent(c, "click")
}

func handleCassetteEvent(c *fiber.Ctx, kind string) error {
	var req cassetteEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body", "message": "Invalid JSON body"})
	}
	req.CassetteID = strings.TrimSpace(req.CassetteID)
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "cassetteId is required"})
	}

	viewerID := strings.TrimSpace(c.Get("X-User-ID"))

	var counted bool
	if kind == "click" {
		counted = tracker.MarkUniqueClick(c.Context(), req.CassetteID, viewerID)
	} else {
		counted = tracker.MarkUniqueView(c.Context(), req.CassetteID, viewerID)
	}
	if !counted {
		return c.JSON(fiber.Map{"success": true, "counted": false, "cassetteId": req.CassetteID})
	}

	total, err := incrementCassetteCounter(c.Context(), req.CassetteID, kind)
	if err != nil {
		if errors.Is(err, errCassetteNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Cassette not found"})
		}
		log.Errorf("could not increment cassette %s %s counter: %v", req.CassetteID, kind, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_unavailable", "message": "Failed to update counter"})
	}

	resp := fiber.Map{"success": true, "counted": true, "cassetteId": req.CassetteID}
	if kind == "click" {
		resp["websiteClicks"] = total
	} else {
		resp["views"] = total
	}
	return c.JSON(resp)
}

// incrementCassetteCounter finds the public cassette's owner in the
// directory and bumps the counter on their profile document. The write goes
// through the budget pruner like every other profile write.
func incrementCassetteCounter(ctx context.Context, cassetteID, kind string) (int64, error) {
	offset := 0
	for {
		page, err := dirClient.ListUsers(ctx, cassetteSearchPageSize, offset)
		if err != nil {
			return 0, err
		}
		if len(page.Data) == 0 {
			return 0, errCassetteNotFound
		}

		for i := range page.Data {
			user := &page.Data[i]
			doc := user.PublicMetadata
			for j := range doc.PublicCassettes {
				cassette := &doc.PublicCassettes[j]
				if cassette.ID != cassetteID || !cassette.IsPublic {
					continue
				}

				var total int64
				if kind == "click" {
					cassette.WebsiteClicks++
					total = cassette.WebsiteClicks
				} else {
					cassette.Views++
					total = cassette.Views
				}

				pruned := metadata.PruneToBudget(doc, models.ProfileSafeBudgetBytes)
				if _, err := dirClient.UpdateUserMetadata(ctx, user.ID, pruned); err != nil {
					return 0, err
				}
				return total, nil
			}
		}

		offset += cassetteSearchPageSize
		if page.TotalCount > 0 && int64(offset) >= page.TotalCount {
			return 0, errCassetteNotFound
		}
		if len(page.Data) < cassetteSearchPageSize {
			return 0, errCassetteNotFound
		}
	}
}
