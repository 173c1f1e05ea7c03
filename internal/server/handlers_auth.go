package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/safar/storefront-core/internal/statestore"
)

type shopSettings struct {
	TwoFactorEnabled bool `json:"twoFactorEnabled"`
}

func (s *Server) loadSettings(c *gin.Context) (shopSettings, error) {
	var settings shopSettings
	err := s.state.Load(c.Request.Context(), statestore.KeySettings, &settings)
	return settings, err
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	ctx := c.Request.Context()
	user, err := s.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		s.audit(ctx, "auth", "failed login", gin.H{"email": req.Email})
		respondError(c, err)
		return
	}

	settings, err := s.loadSettings(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if settings.TwoFactorEnabled && s.mail.Configured() {
		otpToken, code, err := s.otp.Issue(user.Email)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := s.mail.OTPEmail(ctx, user.Email, code); err != nil {
			s.otp.Drop(otpToken)
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not deliver verification code"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requires2fa": true, "otpToken": otpToken})
		return
	}

	s.issueSession(c, user.ID)
}

func (s *Server) handleVerifyOTP(c *gin.Context) {
	var req struct {
		OTPToken string `json:"otpToken"`
		Code     string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OTPToken == "" || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otpToken and code are required"})
		return
	}

	email, err := s.otp.Verify(req.OTPToken, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}

	user, err := s.users.FindByEmail(c.Request.Context(), email)
	if err != nil {
		respondError(c, err)
		return
	}
	s.issueSession(c, user.ID)
}

// issueSession mints the bearer token and, when account linking is
// configured, the short-lived link token alongside it.
func (s *Server) issueSession(c *gin.Context, userID string) {
	ctx := c.Request.Context()
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := s.signer.Mint(user)
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{"sessionToken": token, "user": user.Safe()}
	if s.linker.Configured() {
		body["linkToken"] = s.linker.IssueLinkToken(user)
	}
	s.audit(ctx, "auth", "session issued", gin.H{"userId": user.ID})
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	ctx := c.Request.Context()
	user, err := s.users.Register(ctx, req.Email, req.Name, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	s.audit(ctx, "auth", "account registered", gin.H{"userId": user.ID})
	s.issueSession(c, user.ID)
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": currentUser(c).Safe()})
}

func (s *Server) handleDiscordConnectURL(c *gin.Context) {
	var req struct {
		LinkToken string `json:"linkToken"`
		ReturnURL string `json:"returnUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	url, err := s.linker.ConnectURL(req.LinkToken, req.ReturnURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) handleDiscordCallback(c *gin.Context) {
	redirect, err := s.linker.Callback(c.Request.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

func (s *Server) handleDiscordUnlink(c *gin.Context) {
	if err := s.linker.Unlink(c.Request.Context(), currentUser(c).ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlinked": true})
}
