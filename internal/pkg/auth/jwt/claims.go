package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JSON Web Token (JWT) claims issued on login and registration.
// The token lets a reconnecting terminal rebind its websocket to the named user and authorizes
// the REST endpoints reserved for administrators.
type Payload struct {
	// StandardClaims embeds the necessary JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), Iss (Issuer) and Sub (the user name).
	jwt.StandardClaims `json:"standard_claims"`

	// UserName is the lower-cased name of the account the token was issued for.
	UserName string `json:"user_name"`

	// AccessLevel is the access level at issue time. The chat core re-reads the live value
	// on every command, so this is only trusted by the REST layer.
	AccessLevel int `json:"access_level"`
}
