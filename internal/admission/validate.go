package admission

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
)

// MaxNameLength bounds the project name in runes.
const MaxNameLength = 100

// NormalizeURL turns user input into an absolute URL: http(s) links are kept,
// "www." links get https://, anything else gets https://www.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return s
	case strings.HasPrefix(s, "www."):
		return "https://" + s
	default:
		return "https://www." + s
	}
}

// NormalizeProject trims the name and normalizes every link.
func NormalizeProject(p domain.Project) domain.Project {
	return domain.Project{
		Name:        strings.TrimSpace(p.Name),
		LogoRef:     NormalizeURL(p.LogoRef),
		LinkRef:     NormalizeURL(p.LinkRef),
		TelegramRef: NormalizeURL(p.TelegramRef),
		ChartRef:    NormalizeURL(p.ChartRef),
	}
}

// ValidURL reports whether s is an absolute http(s) URL with a host.
func ValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" && !strings.ContainsAny(u.Host, " \t")
}

// ValidWallet reports whether s is a base58 ed25519 public key.
func ValidWallet(s string) bool {
	key, err := base58.Decode(s)
	if err != nil || len(key) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(key)
	return err == nil
}

// ValidateProject checks a normalized project.
func ValidateProject(p domain.Project) error {
	if p.Name == "" {
		return boost.Invalid("project_name", "must not be empty")
	}
	if utf8.RuneCountInString(p.Name) > MaxNameLength {
		return boost.Invalid("project_name", "must be at most %d characters", MaxNameLength)
	}
	if p.LinkRef == "" {
		return boost.Invalid("project_link", "must not be empty")
	}

	links := []struct {
		field string
		value string
	}{
		{"project_link", p.LinkRef},
		{"project_logo", p.LogoRef},
		{"telegram_link", p.TelegramRef},
		{"chart_link", p.ChartRef},
	}
	for _, l := range links {
		if l.value != "" && !ValidURL(l.value) {
			return boost.Invalid(l.field, "%q is not a valid http(s) URL", l.value)
		}
	}
	return nil
}

// ValidatePayment checks the payer, amount and proof shared by submissions and top-ups.
func ValidatePayment(rules boost.Rules, wallet string, amount domain.Cents, proof string) error {
	if !ValidWallet(wallet) {
		return boost.Invalid("wallet", "%q is not a valid wallet public key", wallet)
	}
	if amount < rules.MinContribution {
		return boost.Invalid("contribution", "must be at least %s, got %s", rules.MinContribution, amount)
	}
	if strings.TrimSpace(proof) == "" {
		return boost.Invalid("payment_proof", "must not be empty")
	}
	if _, err := base58.Decode(proof); err != nil {
		return boost.Invalid("payment_proof", "is not a base58 signature")
	}
	return nil
}
