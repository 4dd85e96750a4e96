// Account HTTP handlers.
//
// This file exposes registration, login, token refresh and the profile of
// the authenticated user:
//   - POST  /auth/register
//   - POST  /auth/login
//   - POST  /auth/refresh
//   - GET   /profile
//   - PATCH /profile
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/brandsafe-backend/internal/auth"
	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/services"
)

//
// DTOs
//

// ProfileRequest is a partial profile update. Omitted fields are unchanged;
// an empty string clears an optional field. The role cannot be changed here.
type ProfileRequest struct {
	Email           *string `json:"email"            example:"jane@example.com"`
	FirstName       *string `json:"first_name"       example:"Jane"`
	LastName        *string `json:"last_name"        example:"Doe"`
	Organization    *string `json:"organization"     example:"Acme Corp"`
	InstagramHandle *string `json:"instagram_handle" binding:"omitempty,max=100" example:"@jane"`
	TwitterHandle   *string `json:"twitter_handle"   binding:"omitempty,max=100" example:"@jane"`
	YoutubeChannel  *string `json:"youtube_channel"  binding:"omitempty,max=200"`
	Website         *string `json:"website"          binding:"omitempty,max=200" example:"https://example.com"`
	PhoneNumber     *string `json:"phone_number"     binding:"omitempty,max=20" example:"+30 210 0000000"`
	Bio             *string `json:"bio"              binding:"omitempty,max=500"`
}

func (p ProfileRequest) update() services.ProfileUpdate {
	return services.ProfileUpdate{
		Email:           p.Email,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Organization:    p.Organization,
		InstagramHandle: p.InstagramHandle,
		TwitterHandle:   p.TwitterHandle,
		YoutubeChannel:  p.YoutubeChannel,
		Website:         p.Website,
		PhoneNumber:     p.PhoneNumber,
		Bio:             p.Bio,
	}
}

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Username        string `json:"username"         binding:"required" example:"jane"`
	Email           string `json:"email"            binding:"required" example:"jane@example.com"`
	Password        string `json:"password"         binding:"required" example:"s3cure-Passw0rd"`
	PasswordConfirm string `json:"password_confirm" binding:"required" example:"s3cure-Passw0rd"`
	FirstName       string `json:"first_name"       example:"Jane"`
	LastName        string `json:"last_name"        example:"Doe"`
	Role            string `json:"role"             example:"influencer"`
	ProfileRequest
}

// LoginRequest is the username/password payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"jane"`
	Password string `json:"password" binding:"required" example:"s3cure-Passw0rd"`
}

// RefreshRequest carries a refresh token.
type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// AuthResponse is returned by register, login and refresh.
type AuthResponse struct {
	User    *domain.User   `json:"user"`
	Tokens  auth.TokenPair `json:"tokens"`
	Message string         `json:"message" example:"Login successful"`
}

//
// Handlers
//

// Register godoc
// @ID          register
// @Summary     Register a new account
// @Description Creates an influencer account and returns a token pair. Admin accounts cannot self-register.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RegisterRequest  true  "Registration payload"
// @Success     201  {object} handlers.AuthResponse
// @Failure     400  {object} handlers.ErrorResponse "Validation error"
// @Failure     403  {object} handlers.ErrorResponse "Role not allowed"
// @Failure     409  {object} handlers.ErrorResponse "Username or email taken"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, bindingMessage(err, "invalid JSON body"))
		return
	}

	in := services.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Role:            domain.Role(req.Role),
		Profile:         req.ProfileRequest.update(),
	}

	sess, err := h.authSvc.Register(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, AuthResponse{User: sess.User, Tokens: sess.Tokens, Message: "User registered successfully"})
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object} handlers.AuthResponse
// @Failure     400  {object} handlers.ErrorResponse "Validation error"
// @Failure     401  {object} handlers.ErrorResponse "Invalid credentials"
// @Failure     403  {object} handlers.ErrorResponse "Account disabled"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, bindingMessage(err, "invalid JSON body"))
		return
	}
	sess, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, AuthResponse{User: sess.User, Tokens: sess.Tokens, Message: "Login successful"})
}

// Refresh godoc
// @ID          refresh
// @Summary     Refresh tokens
// @Description Exchanges a valid refresh token for a new token pair.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RefreshRequest  true  "Refresh token"
// @Success     200  {object} handlers.AuthResponse
// @Failure     400  {object} handlers.ErrorResponse "Validation error"
// @Failure     401  {object} handlers.ErrorResponse "Invalid token"
// @Router      /auth/refresh [post]
func (h *Handlers) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, bindingMessage(err, "invalid JSON body"))
		return
	}
	sess, err := h.authSvc.Refresh(c.Request.Context(), req.Refresh)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, AuthResponse{User: sess.User, Tokens: sess.Tokens, Message: "Token refreshed"})
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Current user profile
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} domain.User
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	u, err := h.authSvc.Profile(c.Request.Context(), currentUser(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// UpdateProfile godoc
// @ID          updateProfile
// @Summary     Update current user profile
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.ProfileRequest  true  "Fields to change"
// @Success     200  {object} domain.User
// @Failure     400  {object} handlers.ErrorResponse "Validation error"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     409  {object} handlers.ErrorResponse "Email taken"
// @Router      /profile [patch]
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, bindingMessage(err, "invalid JSON body"))
		return
	}
	u, err := h.authSvc.UpdateProfile(c.Request.Context(), currentUser(c), req.update())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
