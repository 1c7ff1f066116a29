package domain

// LoginRequest represents dashboard login credentials
type LoginRequest struct {
	Password string `json:"password" validate:"required"`
}

// Token is the bearer credential handed to clients
type Token struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}
