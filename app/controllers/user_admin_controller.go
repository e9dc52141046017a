package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/aviary-app/entitlement-service/app/models"
	"github.com/aviary-app/entitlement-service/app/repository"
)

type createUserRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// HandleAdminCreateUser provisions a user account together with its default
// free/none entitlement. Accounts authenticate with API keys, so the
// password only seeds the record; a key is minted separately.
func HandleAdminCreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "name, email and password are required"})
	}

	repos := repository.GetGlobalRepositories()
	if _, err := repos.User.GetByEmail(req.Email); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "message": "email already registered"})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("admin create user: email lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "user creation failed"})
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid user data"})
	}
	if err := repos.User.Create(user); err != nil {
		log.Printf("admin create user: persisting failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "user creation failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

// HandleAdminIssueAPIKey mints a fresh API key for the target user and
// returns the raw secret once; only its hash is stored. Re-issuing replaces
// any previous key.
func HandleAdminIssueAPIKey(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid user id"})
	}

	repos := repository.GetGlobalRepositories()
	user, err := repos.User.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "user not found"})
		}
		log.Printf("admin issue api key: user lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "key issue failed"})
	}

	rotated := user.HasActiveAPIKey()
	rawKey, err := user.IssueAPIKey()
	if err != nil {
		log.Printf("admin issue api key: generation failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "key issue failed"})
	}
	if err := repos.User.Update(user); err != nil {
		log.Printf("admin issue api key: persisting failed for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "key issue failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"api_key":        rawKey,
			"api_key_prefix": user.APIKeyPrefix,
			"rotated":        rotated,
		},
	})
}
