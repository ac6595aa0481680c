package domain

// CaptchaResult is the verifier's assessment of a client token.
type CaptchaResult struct {
	Success    bool
	Score      float64
	Action     string
	Hostname   string
	ErrorCodes []string
}
