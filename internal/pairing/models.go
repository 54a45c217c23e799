package pairing

type PairRequest struct {
	DeviceID string `json:"device_id"`
	PIN      string `json:"pin"`
}

type TokenResponse struct {
	LinkToken string `json:"link_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}
