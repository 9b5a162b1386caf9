package handlers

import (
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frankiekoifi/gamestake/middleware"
	"github.com/frankiekoifi/gamestake/services"
	"github.com/frankiekoifi/gamestake/utils"
)

type MatchHandler struct {
	Matches *services.MatchService
}

func SetupMatchRoutes(app *fiber.App, matches *services.MatchService) {
	h := &MatchHandler{Matches: matches}

	secured := app.Group("/matches", middleware.UserContextMiddleware())
	secured.Post("/", h.CreateChallenge)
	secured.Get("/:id", h.GetMatch)
	secured.Post("/:id/accept", h.AcceptChallenge)
	secured.Post("/:id/start", h.StartMatch)
	secured.Post("/:id/proof", h.SubmitProof)
	secured.Post("/:id/confirm", h.ConfirmResult)
	secured.Post("/:id/cancel", h.CancelChallenge)
	secured.Post("/:id/dispute", h.CreateDispute)

	// 🔒 Arbitration is admin-only
	secured.Post("/disputes/:dispute_id/resolve", middleware.RequireRole("admin"), h.ResolveDispute)
}

func (h *MatchHandler) CreateChallenge(c *fiber.Ctx) error {
	var body struct {
		Game        string            `json:"game"`
		WagerAmount decimal.Decimal   `json:"wager_amount"`
		Rules       map[string]string `json:"rules"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	m, err := h.Matches.CreateChallenge(c.Context(), userID(c), body.Game, body.WagerAmount, body.Rules)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

func (h *MatchHandler) GetMatch(c *fiber.Ctx) error {
	m, err := h.Matches.GetMatch(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(m)
}

func (h *MatchHandler) AcceptChallenge(c *fiber.Ctx) error {
	m, err := h.Matches.AcceptChallenge(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(m)
}

func (h *MatchHandler) StartMatch(c *fiber.Ctx) error {
	m, err := h.Matches.StartMatch(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(m)
}

// SubmitProof accepts either a multipart "screenshot" file, which is stored
// and its URL recorded, or a plain proof_url value.
func (h *MatchHandler) SubmitProof(c *fiber.Ctx) error {
	matchID := c.Params("id")

	proofURL := c.FormValue("proof_url")
	if file, err := c.FormFile("screenshot"); err == nil && file.Size > 0 {
		ext := filepath.Ext(file.Filename)
		if ext == "" {
			ext = ".png"
		}
		key := fmt.Sprintf("proofs/%s/%s%s", matchID, uuid.NewString(), ext)
		url, err := utils.UploadEvidence(file, key)
		if err != nil {
			return fail(c, err)
		}
		proofURL = url
	}
	if proofURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "screenshot file or proof_url is required"})
	}

	m, err := h.Matches.SubmitProof(c.Context(), matchID, userID(c), proofURL)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(m)
}

func (h *MatchHandler) ConfirmResult(c *fiber.Ctx) error {
	m, err := h.Matches.ConfirmResult(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(m)
}

func (h *MatchHandler) CancelChallenge(c *fiber.Ctx) error {
	m, err := h.Matches.CancelChallenge(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(m)
}

// CreateDispute takes a multipart form: a reason plus optional evidence
// files uploaded alongside it.
func (h *MatchHandler) CreateDispute(c *fiber.Ctx) error {
	matchID := c.Params("id")
	reason := c.FormValue("reason")

	var evidence []string
	if form, err := c.MultipartForm(); err == nil {
		for _, file := range form.File["evidence"] {
			ext := filepath.Ext(file.Filename)
			if ext == "" {
				ext = ".png"
			}
			key := fmt.Sprintf("disputes/%s/%s%s", matchID, uuid.NewString(), ext)
			url, err := utils.UploadEvidence(file, key)
			if err != nil {
				return fail(c, err)
			}
			evidence = append(evidence, url)
		}
	}

	d, err := h.Matches.CreateDispute(c.Context(), matchID, userID(c), reason, evidence)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

func (h *MatchHandler) ResolveDispute(c *fiber.Ctx) error {
	var body struct {
		WinnerID string `json:"winner_id"` // empty means refund both stakes
	}
	_ = c.BodyParser(&body)

	d, err := h.Matches.ResolveDispute(c.Context(), c.Params("dispute_id"), userID(c), body.WinnerID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}
