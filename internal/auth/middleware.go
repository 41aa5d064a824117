package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the token shape issued by the identity service. Token issuance and
// verification policy live there; this middleware only maps verified claims to
// a Caller.
type Claims struct {
	jwt.RegisteredClaims
	Role        string   `json:"role"`
	PatientID   string   `json:"patient_id,omitempty"`
	DoctorID    string   `json:"doctor_id,omitempty"`
	Departments []string `json:"departments,omitempty"`
}

// Middleware parses the bearer token with the shared HS256 secret and stores
// the resulting Caller in the request context. Requests without a valid token
// are rejected; anonymous endpoints are mounted outside this middleware.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			if !strings.HasPrefix(raw, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw = strings.TrimPrefix(raw, "Bearer ")

			var claims Claims
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			caller := Caller{
				Subject:     claims.Subject,
				Role:        Role(claims.Role),
				Departments: claims.Departments,
			}
			if id, err := uuid.Parse(claims.PatientID); err == nil {
				caller.PatientID = &id
			}
			if id, err := uuid.Parse(claims.DoctorID); err == nil {
				caller.DoctorID = &id
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
