package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/chatcore-backend/internal/platform/ctxutil"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

// AuthMiddleware resolves the requester from an HS256 bearer token issued by
// the identity service. The token subject is the user id.
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
	issuer string
}

func NewAuthMiddleware(log *logger.Logger, secret string, issuer string) *AuthMiddleware {
	return &AuthMiddleware{
		log:    log.With("Middleware", "AuthMiddleware"),
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractTokenFromAll(c)
		if tokenString == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		rd, err := am.Parse(tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			abort(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func (am *AuthMiddleware) Parse(tokenString string) (*ctxutil.RequestData, error) {
	if len(am.secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if am.issuer != "" {
		opts = append(opts, jwt.WithIssuer(am.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, errors.New("token subject is not a user id")
	}
	rd := &ctxutil.RequestData{UserID: userID, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		rd.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return rd, nil
}

// extractTokenFromAll accepts ?token= for EventSource and websocket clients
// that cannot set headers.
func extractTokenFromAll(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"message": msg, "code": code},
	})
}
