package utils

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/lanbeam/lanbeam/internal/utils"
)

var aliasAdj = []string{
	"Adorable",
	"Bright",
	"Clean",
	"Clever",
	"Cool",
	"Cunning",
	"Determined",
	"Energetic",
	"Fast",
	"Fresh",
	"Gorgeous",
	"Great",
	"Kind",
	"Lovely",
	"Mystic",
	"Neat",
	"Nice",
	"Patient",
	"Powerful",
	"Secret",
	"Smart",
	"Solid",
	"Strategic",
	"Strong",
	"Tidy",
	"Wise",
}

var aliasFruit = []string{
	"Apple",
	"Avocado",
	"Banana",
	"Blackberry",
	"Blueberry",
	"Carrot",
	"Cherry",
	"Coconut",
	"Grape",
	"Lemon",
	"Mango",
	"Melon",
	"Orange",
	"Papaya",
	"Peach",
	"Pear",
	"Pineapple",
	"Potato",
	"Pumpkin",
	"Raspberry",
	"Strawberry",
	"Tomato",
}

func GenAlias() string {
	adj := utils.RandChoice(aliasAdj)
	fruit := utils.RandChoice(aliasFruit)

	return adj + " " + fruit
}

// NewWebServer builds the fiber app used by the receiver. Request
// bodies are streamed so large uploads never buffer in memory, and
// CORS is permissive (OPTIONS answered by the middleware) since other
// LocalSend-compatible clients may probe from web contexts.
func NewWebServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
		BodyLimit:             1 << 30,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "*",
	}))

	return app
}
