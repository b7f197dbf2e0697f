// Package render fills message templates with contact and agent fields.
package render

import (
	"strings"

	"github.com/ashureev/followups/internal/domain"
)

// Supported placeholder tokens. Anything else in braces is left as written.
const (
	TokenContactName  = "{contact_name}"
	TokenContactTitle = "{contact_title}"
	TokenContactPhone = "{contact_phone}"
	TokenAgentName    = "{agent_name}"
	TokenAgentPhone   = "{agent_phone}"
	TokenAgencyName   = "{agency_name}"
	TokenLicenseNo    = "{license_no}"
	TokenAgentBio     = "{agent_bio}"
)

// Render substitutes every token in template in a single pass, so values
// that themselves look like tokens are never expanded again.
func Render(template string, c *domain.Contact, a *domain.Agent) string {
	return replacer(c, a).Replace(template)
}

// Body renders template for delivery over ch. Email bodies are HTML, so
// newlines become <br/>; other channels are plain text.
func Body(ch domain.Channel, template string, c *domain.Contact, a *domain.Agent) string {
	out := Render(template, c, a)
	if ch == domain.ChannelEmail {
		out = strings.ReplaceAll(strings.ReplaceAll(out, "\r\n", "\n"), "\n", "<br/>")
	}
	return out
}

func replacer(c *domain.Contact, a *domain.Agent) *strings.Replacer {
	if c == nil {
		c = &domain.Contact{}
	}
	if a == nil {
		a = &domain.Agent{}
	}
	return strings.NewReplacer(
		TokenContactName, c.Name,
		TokenContactTitle, c.Title,
		TokenContactPhone, c.Phone,
		TokenAgentName, a.FullName,
		TokenAgentPhone, a.Phone,
		TokenAgencyName, a.AgencyName,
		TokenLicenseNo, a.LicenseNo,
		TokenAgentBio, a.Bio,
	)
}
