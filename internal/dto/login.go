package dto

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginTwoFactorRequest completes a login that returned requiresTwoFactor.
type LoginTwoFactorRequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

// TwoFactorResponse is the marker returned instead of tokens when the account
// has a second factor enabled.
type TwoFactorResponse struct {
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	TempToken         string `json:"tempToken"`
}
