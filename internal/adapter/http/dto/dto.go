package dto

// DocumentResponse is the body of a successful document lookup.
type DocumentResponse struct {
	WalletID       string `json:"walletId"`
	DocumentNumber string `json:"documentNumber"`
}

// DependencyStatus reports the health of one external dependency.
type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}
