package model

// RiskAssessment is the outcome of scoring a login attempt. Blocked is
// true exactly when RiskScore reaches 80.
type RiskAssessment struct {
	RiskScore int      `json:"riskScore"`
	Blocked   bool     `json:"blocked"`
	Reasons   []string `json:"reasons"`
}

// AnomalyAssessment is the outcome of scoring an authenticated action.
// IsAnomalous is true exactly when Confidence reaches 0.5.
type AnomalyAssessment struct {
	IsAnomalous bool     `json:"isAnomalous"`
	Confidence  float64  `json:"confidence"`
	Reasons     []string `json:"reasons"`
}

// LoginAttempt is a recorded login outcome, successful or not
type LoginAttempt struct {
	Email     string `json:"email"`
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
	Success   bool   `json:"success"`
}
