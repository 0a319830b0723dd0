// auth.go — аутентификация запросов File Manager.
// JWTAuth проверяет подпись токена через JWKS и извлекает пользователя
// (sub) и отдел (department_id). Без JWKS сервис работает за шлюзом,
// который передаёт пользователя в заголовках X-User-ID и X-Department-ID.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// Заголовки шлюза при отключённой проверке JWT.
const (
	HeaderUserID       = "X-User-ID"
	HeaderDepartmentID = "X-Department-ID"
)

// AuthClaims — пользователь запроса.
type AuthClaims struct {
	// Subject — sub из JWT
	Subject      string
	UserID       int64
	DepartmentID *int64
}

// Actor возвращает исполнителя операций сервисного слоя.
func (c *AuthClaims) Actor() service.Actor {
	return service.Actor{UserID: c.UserID, DepartmentID: c.DepartmentID}
}

// fileManagerClaims — raw claims из JWT.
type fileManagerClaims struct {
	jwt.RegisteredClaims
	// DepartmentID — отдел пользователя (число или строка)
	DepartmentID json.RawMessage `json:"department_id,omitempty"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS по адресу jwksURL.
// Ключи обновляются в фоне каждые refreshInterval.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	refreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем даже если провайдер ключей ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		logger: logger.With(slog.String("component", "jwt_auth")),
		issuer: issuer,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256) и помещает
// пользователя в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &fileManagerClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			claims, err := buildAuthClaims(rawClaims)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims проверяет sub и department_id.
// sub должен быть числовым идентификатором пользователя.
func buildAuthClaims(raw *fileManagerClaims) (*AuthClaims, error) {
	userID, err := parseID(raw.Subject)
	if err != nil {
		return nil, errors.New("sub в токене должен быть идентификатором пользователя")
	}
	claims := &AuthClaims{Subject: raw.Subject, UserID: userID}

	if len(raw.DepartmentID) > 0 && string(raw.DepartmentID) != "null" {
		dept, err := parseID(strings.Trim(string(raw.DepartmentID), `"`))
		if err != nil {
			return nil, errors.New("недопустимый department_id в токене")
		}
		claims.DepartmentID = &dept
	}
	return claims, nil
}

// TrustedHeaders — аутентификация по заголовкам шлюза.
// Используется, когда проверка JWT выполняется на API Gateway.
func TrustedHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := parseID(r.Header.Get(HeaderUserID))
			if err != nil {
				apierrors.Unauthorized(w, "Отсутствует или некорректен заголовок "+HeaderUserID)
				return
			}
			claims := &AuthClaims{Subject: r.Header.Get(HeaderUserID), UserID: userID}

			if v := r.Header.Get(HeaderDepartmentID); v != "" {
				dept, err := parseID(v)
				if err != nil {
					apierrors.Unauthorized(w, "Некорректен заголовок "+HeaderDepartmentID)
					return
				}
				claims.DepartmentID = &dept
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("идентификатор должен быть положительным")
	}
	return id, nil
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims отсутствуют.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// ActorFromContext возвращает исполнителя запроса.
func ActorFromContext(ctx context.Context) (service.Actor, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return service.Actor{}, false
	}
	return claims.Actor(), true
}
