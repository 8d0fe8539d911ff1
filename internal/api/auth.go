package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/apperr"
	"qrattend/internal/identity"
	"qrattend/internal/model"
)

// ---------- Sign up ----------

type signUpRequest struct {
	Role            model.Role `json:"role" binding:"required,oneof=student teacher"`
	Email           string     `json:"email" binding:"required,email"`
	Password        string     `json:"password" binding:"required,min=8,max=72"`
	ConfirmPassword string     `json:"confirmPassword" binding:"required,eqfield=Password"`
	FullName        string     `json:"fullName" binding:"required"`
	Department      string     `json:"department" binding:"required"`
	Phone           string     `json:"phone"`
	USN             string     `json:"usn"`
	Semester        int        `json:"semester"`
}

// SignUp creates the identity and the role's profile document, then signs the
// user in. The profile is validated before the account is created.
func (h *Handler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	student := model.StudentProfile{ID: "pending", FullName: req.FullName, USN: req.USN, Email: req.Email, Phone: req.Phone, Semester: req.Semester, Department: req.Department}
	teacher := model.TeacherProfile{ID: "pending", FullName: req.FullName, Email: req.Email, Phone: req.Phone, Department: req.Department}
	var err error
	if req.Role == model.RoleStudent {
		err = model.Validate(student)
	} else {
		err = model.Validate(teacher)
	}
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	acct, err := h.ids.SignUp(ctx, req.Email, req.Password)
	if errors.Is(err, identity.ErrEmailTaken) {
		acct, err = h.resumeSignUp(ctx, req.Email, req.Password)
	}
	switch {
	case errors.Is(err, identity.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	case err != nil:
		h.fail(c, apperr.Wrap(apperr.Unavailable, "could not create account", err))
		return
	}

	if req.Role == model.RoleStudent {
		student.ID = acct.UID
		err = h.svc.SaveStudentProfile(ctx, student)
	} else {
		teacher.ID = acct.UID
		err = h.svc.SaveTeacherProfile(ctx, teacher)
	}
	if err != nil {
		h.log.Error("profile write after sign up failed", zap.String("uid", acct.UID), zap.Error(err))
		h.fail(c, err)
		return
	}

	h.issue(c, http.StatusCreated, acct.UID, req.Role)
}

// resumeSignUp returns the existing account when the password matches and no
// profile was written for it, so a sign-up cut short by a store outage can be
// retried. Anything else reports the email as taken.
func (h *Handler) resumeSignUp(ctx context.Context, email, password string) (identity.Account, error) {
	acct, err := h.ids.SignIn(ctx, email, password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return identity.Account{}, identity.ErrEmailTaken
	}
	if err != nil {
		return identity.Account{}, err
	}
	_, err = h.svc.RoleOf(ctx, acct.UID)
	if apperr.KindOf(err) == apperr.NotFound {
		h.log.Info("completing interrupted sign up", zap.String("uid", acct.UID))
		return acct, nil
	}
	if err != nil {
		return identity.Account{}, err
	}
	return identity.Account{}, identity.ErrEmailTaken
}

// ---------- Sign in ----------

type signInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignIn checks credentials and resolves the role from the profile collections.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := h.ids.SignIn(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	case err != nil:
		h.fail(c, apperr.Wrap(apperr.Unavailable, "could not sign in", err))
		return
	}
	h.signInAs(c, acct.UID)
}

func (h *Handler) signInAs(c *gin.Context, uid string) {
	role, err := h.svc.RoleOf(c.Request.Context(), uid)
	if apperr.KindOf(err) == apperr.NotFound {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no profile for this account"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, uid, role)
}

func (h *Handler) issue(c *gin.Context, status int, uid string, role model.Role) {
	pair, err := h.tokens.Issue(uid, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{
		"uid":              uid,
		"role":             role,
		"accessToken":      pair.AccessToken,
		"refreshToken":     pair.RefreshToken,
		"accessExpiresAt":  pair.AccessExp.Unix(),
		"refreshExpiresAt": pair.RefreshExp.Unix(),
	})
}

// ---------- Refresh ----------

// Refresh trades a refresh token for a new pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":      pair.AccessToken,
		"refreshToken":     pair.RefreshToken,
		"accessExpiresAt":  pair.AccessExp.Unix(),
		"refreshExpiresAt": pair.RefreshExp.Unix(),
	})
}

// ---------- Firebase exchange ----------

// FirebaseExchange accepts an ID token from the Firebase client SDK and
// returns API tokens for the same uid.
func (h *Handler) FirebaseExchange(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := h.verifier.VerifyIDToken(c.Request.Context(), req.IDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token"})
		return
	}
	h.signInAs(c, acct.UID)
}
