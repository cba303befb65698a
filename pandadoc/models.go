package pandadoc

// Tier is the pricing bracket that selects the contract template.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Templates maps each tier to its PandaDoc template id.
type Templates struct {
	Basic      string
	Premium    string
	Enterprise string
}

// For returns the template id for a tier.
func (t Templates) For(tier Tier) string {
	switch tier {
	case TierPremium:
		return t.Premium
	case TierEnterprise:
		return t.Enterprise
	default:
		return t.Basic
	}
}

// Document is the created contract as returned by the document system.
type Document struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Recipient identifies who signs the contract.
type Recipient struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// Token is a template token substitution.
type Token struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type createDocumentRequest struct {
	TemplateUUID string      `json:"template_uuid"`
	Name         string      `json:"name"`
	Recipients   []Recipient `json:"recipients"`
	Tokens       []Token     `json:"tokens"`
}

type sendDocumentRequest struct {
	Message string `json:"message"`
	Silent  bool   `json:"silent"`
}
