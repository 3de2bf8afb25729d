// Package api names the backend resources the console talks to and binds
// them to a client. Cache keys are derived from the same paths so that
// invalidating a path refreshes every view reading below it.
package api

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-formflow/pkg/query"
)

// Medical portal module sections.
const (
	PortalStatus        = "status"
	PortalSettings      = "settings"
	PortalToggle        = "toggle"
	PortalMetrics       = "metrics"
	PortalPlans         = "plans"
	PortalSubscriptions = "subscriptions"
)

var portalSections = map[string]struct{}{
	PortalStatus:        {},
	PortalSettings:      {},
	PortalToggle:        {},
	PortalMetrics:       {},
	PortalPlans:         {},
	PortalSubscriptions: {},
}

const (
	socialPartners   = "/api/social/partners"
	fiscalConfig     = "/api/fiscal/config"
	hplcValidations  = "/api/laboratory/hplc/validations"
	medicalPortal    = "/api/organization/modules/medical-portal"
	pharmacists      = "/api/organization/pharmacists"
	whatsappTemplate = "/api/whatsapp/templates"
)

func join(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// SocialPartner is the partner detail path.
func SocialPartner(id string) string { return join(socialPartners, id) }

// SocialPartnerBenefits is where new benefits are created for a partner.
func SocialPartnerBenefits(partnerID string) string {
	return join(socialPartners, partnerID) + "/benefits"
}

// SocialBenefit is the update path of an existing benefit.
func SocialBenefit(id string) string { return join(socialPartners+"/benefits", id) }

// FiscalConfig is the organization's fiscal configuration path.
func FiscalConfig(organizationID string) string { return join(fiscalConfig, organizationID) }

// HPLCValidations is the validation collection path.
func HPLCValidations() string { return hplcValidations }

// HPLCValidation is a single validation path.
func HPLCValidation(id string) string { return join(hplcValidations, id) }

// HPLCValidationResults is the nested results collection of a validation.
func HPLCValidationResults(id string) string { return HPLCValidation(id) + "/results" }

// HPLCValidationDocuments is the nested document upload collection.
func HPLCValidationDocuments(id string) string { return HPLCValidation(id) + "/documents" }

// MedicalPortal returns the module section path. Unknown sections are
// rejected.
func MedicalPortal(section string) (string, error) {
	if _, ok := portalSections[section]; !ok {
		return "", fmt.Errorf("api: unknown medical portal section %q", section)
	}
	return medicalPortal + "/" + section, nil
}

// MedicalPortalRoot is the prefix shared by every module section.
func MedicalPortalRoot() string { return medicalPortal }

// Pharmacists is the pharmacist collection path.
func Pharmacists() string { return pharmacists }

// WhatsAppTemplates is the template collection path.
func WhatsAppTemplates() string { return whatsappTemplate }

// Key derives the cache key for path.
func Key(path string) query.Key { return query.KeyFromPath(path) }

// KeyWithQuery derives the cache key for path filtered by params.
func KeyWithQuery(path string, params url.Values) query.Key {
	if len(params) == 0 {
		return Key(path)
	}
	return Key(path + "?" + params.Encode())
}
