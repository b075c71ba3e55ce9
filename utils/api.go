package utils

import (
	fiber "github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/database"
)

func MakeHTTPHandleFunc(handler func(c *fiber.Ctx, store database.DocumentStore) error, store database.DocumentStore) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if err := handler(c, store); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return nil
	}
}
