package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

// TokenManager issues and verifies HS256 access tokens. Expiry is judged
// against the supplied clock, so advancing simulated time expires tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. A nil now means time.Now.
func NewTokenManager(secret []byte, ttl time.Duration, now func() time.Time) *TokenManager {
	if now == nil {
		now = time.Now
	}
	return &TokenManager{secret: secret, ttl: ttl, now: now}
}

// Issue signs a token for userID.
func (m *TokenManager) Issue(userID int64) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the user id.
func (m *TokenManager) Verify(token string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("token subject is not a user id")
	}
	return id, nil
}

// Login handles POST /auth/login. It accepts JSON {email, password} or an
// OAuth2-style form with username and password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var email, password string

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			twincore.ValidationError(w, []twincore.ValidationIssue{bodyIssue("invalid form body")})
			return
		}
		email = r.PostForm.Get("username")
		if email == "" {
			email = r.PostForm.Get("email")
		}
		password = r.PostForm.Get("password")
	} else {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				twincore.ValidationError(w, []twincore.ValidationIssue{bodyIssue("invalid JSON body")})
				return
			}
		}
		email, password = body.Email, body.Password
	}

	var issues []twincore.ValidationIssue
	if email == "" {
		issues = append(issues, missing("body", "email"))
	}
	if password == "" {
		issues = append(issues, missing("body", "password"))
	}
	if len(issues) > 0 {
		twincore.ValidationError(w, issues)
		return
	}

	user, ok := h.store.Authenticate(email, password)
	if !ok {
		unauthorized(w, "Incorrect email or password")
		return
	}
	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		twincore.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	twincore.JSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.ttl.Seconds()),
	})
}

func missing(loc ...string) twincore.ValidationIssue {
	return twincore.ValidationIssue{Loc: loc, Msg: "field required", Type: "missing"}
}

func bodyIssue(msg string) twincore.ValidationIssue {
	return twincore.ValidationIssue{Loc: []string{"body"}, Msg: msg, Type: "value_error"}
}
