package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/frankiekoifi/gamestake/middleware"
	"github.com/frankiekoifi/gamestake/services"
)

type WalletHandler struct {
	Wallet *services.WalletService
}

func SetupWalletRoutes(app *fiber.App, wallet *services.WalletService, webhookToken string) {
	h := &WalletHandler{Wallet: wallet}

	// 🔓 Gateway webhook: authenticated by shared token, not user context
	app.Post("/webhooks/payments", h.PaymentWebhook(webhookToken))

	// 🔐 Authenticated routes
	secured := app.Group("/wallet", middleware.UserContextMiddleware())
	secured.Post("/", h.CreateWallet)
	secured.Get("/", h.GetWallet)
	secured.Get("/transactions", h.GetTransactions)
	secured.Post("/deposit", h.InitiateDeposit)
	secured.Post("/withdraw", h.Withdraw)
}

func (h *WalletHandler) CreateWallet(c *fiber.Ctx) error {
	var body struct {
		Currency string `json:"currency"`
	}
	_ = c.BodyParser(&body)

	w, err := h.Wallet.CreateWallet(c.Context(), userID(c), body.Currency)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(w)
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	w, err := h.Wallet.GetWallet(c.Context(), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"wallet":    w,
		"available": w.Available(),
	})
}

func (h *WalletHandler) GetTransactions(c *fiber.Ctx) error {
	txs, err := h.Wallet.Transactions(c.Context(), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

func (h *WalletHandler) InitiateDeposit(c *fiber.Ctx) error {
	var body struct {
		Amount decimal.Decimal `json:"amount"`
		Method string          `json:"method"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Method == "" {
		body.Method = "mpesa"
	}

	record, err := h.Wallet.InitiateDeposit(c.Context(), userID(c), body.Amount, body.Method)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":     "deposit initiated, awaiting confirmation",
		"transaction": record,
	})
}

func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	var body struct {
		Amount decimal.Decimal `json:"amount"`
		Method string          `json:"method"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Method == "" {
		body.Method = "mpesa"
	}

	res, err := h.Wallet.Withdraw(c.Context(), userID(c), body.Amount, body.Method)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"wallet":      res.Wallet,
		"transaction": res.Record,
	})
}

// PaymentWebhook receives gateway confirmation events. It always returns 200
// for events it understood, even replays, so the gateway stops retrying.
func (h *WalletHandler) PaymentWebhook(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" || c.Get("X-Service-Token") != token {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid service token"})
		}

		var ev services.PaymentEvent
		if err := c.BodyParser(&ev); err != nil || ev.Reference == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid event payload"})
		}

		if err := h.Wallet.HandlePaymentEvent(c.Context(), ev); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
