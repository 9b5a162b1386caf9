package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/frankiekoifi/gamestake/middleware"
	"github.com/frankiekoifi/gamestake/services"
)

type TournamentHandler struct {
	Tournaments *services.TournamentService
}

func SetupTournamentRoutes(app *fiber.App, tournaments *services.TournamentService) {
	h := &TournamentHandler{Tournaments: tournaments}

	secured := app.Group("/tournaments", middleware.UserContextMiddleware())
	secured.Post("/", h.CreateTournament)
	secured.Get("/:id", h.GetTournament)
	secured.Get("/:id/participants", h.GetParticipants)
	secured.Post("/:id/join", h.JoinTournament)
	secured.Post("/:id/bracket", h.GenerateBracket)

	// 🔒 Settlement endpoints are admin-only
	secured.Post("/:id/complete", middleware.RequireRole("admin"), h.CompleteTournament)
	secured.Post("/:id/distribute", middleware.RequireRole("admin"), h.DistributePrizes)
}

func (h *TournamentHandler) CreateTournament(c *fiber.Ctx) error {
	var body struct {
		Name              string            `json:"name"`
		Game              string            `json:"game"`
		Format            string            `json:"format"`
		EntryFee          decimal.Decimal   `json:"entry_fee"`
		MaxParticipants   int               `json:"max_participants"`
		PrizeDistribution []decimal.Decimal `json:"prize_distribution"`
		StartDate         time.Time         `json:"start_date"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	t, err := h.Tournaments.CreateTournament(c.Context(), services.CreateTournamentInput{
		CreatorID:         userID(c),
		Name:              body.Name,
		Game:              body.Game,
		Format:            body.Format,
		EntryFee:          body.EntryFee,
		MaxParticipants:   body.MaxParticipants,
		PrizeDistribution: body.PrizeDistribution,
		StartDate:         body.StartDate,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

func (h *TournamentHandler) GetTournament(c *fiber.Ctx) error {
	t, err := h.Tournaments.GetTournament(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}

func (h *TournamentHandler) GetParticipants(c *fiber.Ctx) error {
	participants, err := h.Tournaments.Participants(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"participants": participants})
}

func (h *TournamentHandler) JoinTournament(c *fiber.Ctx) error {
	t, err := h.Tournaments.JoinTournament(c.Context(), c.Params("id"), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}

func (h *TournamentHandler) GenerateBracket(c *fiber.Ctx) error {
	t, err := h.Tournaments.GenerateBracket(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"bracket": t.Bracket})
}

func (h *TournamentHandler) CompleteTournament(c *fiber.Ctx) error {
	var body struct {
		Winners []string `json:"winners"` // ranked, index 0 = 1st place
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	t, err := h.Tournaments.CompleteTournament(c.Context(), c.Params("id"), body.Winners)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}

func (h *TournamentHandler) DistributePrizes(c *fiber.Ctx) error {
	t, err := h.Tournaments.DistributePrizes(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(t)
}
