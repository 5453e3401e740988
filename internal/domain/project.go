package domain

// Project holds the display fields shared by a slot occupant and a waitlist entry.
type Project struct {
	Name        string `json:"name"`
	LogoRef     string `json:"logo"`
	LinkRef     string `json:"link"`
	TelegramRef string `json:"telegram,omitempty"`
	ChartRef    string `json:"chart,omitempty"`
}

// Submission is a request to boost a project, carrying the payer and the proof
// of the on-chain transfer that settles the contribution.
type Submission struct {
	Project        Project `json:"project"`
	WalletIdentity string  `json:"wallet_identity"`
	Contribution   Cents   `json:"contribution"`
	PaymentProof   string  `json:"payment_proof"`
}
