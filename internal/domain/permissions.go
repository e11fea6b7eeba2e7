package domain

// PermissionSet is the 11-capability grant vector attached to a mandate.
// Grouping exists for display only and carries no behavioral meaning.
type PermissionSet struct {
	CanViewProperties   bool `json:"can_view_properties"`
	CanEditProperties   bool `json:"can_edit_properties"`
	CanCreateProperties bool `json:"can_create_properties"`
	CanDeleteProperties bool `json:"can_delete_properties"`

	CanViewApplications   bool `json:"can_view_applications"`
	CanManageApplications bool `json:"can_manage_applications"`
	CanCreateLeases       bool `json:"can_create_leases"`

	CanViewFinancials    bool `json:"can_view_financials"`
	CanManageMaintenance bool `json:"can_manage_maintenance"`

	CanContactTenants  bool `json:"can_contact_tenants"`
	CanManageDocuments bool `json:"can_manage_documents"`
}

// PermissionKeys lists every capability key in a stable order.
var PermissionKeys = []string{
	"can_view_properties",
	"can_edit_properties",
	"can_create_properties",
	"can_delete_properties",
	"can_view_applications",
	"can_manage_applications",
	"can_create_leases",
	"can_view_financials",
	"can_manage_maintenance",
	"can_contact_tenants",
	"can_manage_documents",
}

// PermissionGroup names a display group of capability keys. Grouping is
// cosmetic and carries no behavioral meaning.
type PermissionGroup struct {
	Name string
	Keys []string
}

// PermissionGroups lists the display groups in a stable order.
var PermissionGroups = []PermissionGroup{
	{Name: "property_management", Keys: []string{
		"can_view_properties", "can_edit_properties", "can_create_properties", "can_delete_properties",
	}},
	{Name: "applications_leases", Keys: []string{
		"can_view_applications", "can_manage_applications", "can_create_leases",
	}},
	{Name: "financial_maintenance", Keys: []string{
		"can_view_financials", "can_manage_maintenance",
	}},
	{Name: "communication_documents", Keys: []string{
		"can_contact_tenants", "can_manage_documents",
	}},
}

// DefaultPermissions is the grant applied when a mandate is first created.
func DefaultPermissions() PermissionSet {
	return PermissionSet{
		CanViewProperties:   true,
		CanViewApplications: true,
		CanContactTenants:   true,
	}
}

// ValidPermissionKey reports whether key names a known capability.
func ValidPermissionKey(key string) bool {
	for _, k := range PermissionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a capability by key.
func (p PermissionSet) Get(key string) (bool, bool) {
	switch key {
	case "can_view_properties":
		return p.CanViewProperties, true
	case "can_edit_properties":
		return p.CanEditProperties, true
	case "can_create_properties":
		return p.CanCreateProperties, true
	case "can_delete_properties":
		return p.CanDeleteProperties, true
	case "can_view_applications":
		return p.CanViewApplications, true
	case "can_manage_applications":
		return p.CanManageApplications, true
	case "can_create_leases":
		return p.CanCreateLeases, true
	case "can_view_financials":
		return p.CanViewFinancials, true
	case "can_manage_maintenance":
		return p.CanManageMaintenance, true
	case "can_contact_tenants":
		return p.CanContactTenants, true
	case "can_manage_documents":
		return p.CanManageDocuments, true
	}
	return false, false
}

func (p *PermissionSet) set(key string, value bool) {
	switch key {
	case "can_view_properties":
		p.CanViewProperties = value
	case "can_edit_properties":
		p.CanEditProperties = value
	case "can_create_properties":
		p.CanCreateProperties = value
	case "can_delete_properties":
		p.CanDeleteProperties = value
	case "can_view_applications":
		p.CanViewApplications = value
	case "can_manage_applications":
		p.CanManageApplications = value
	case "can_create_leases":
		p.CanCreateLeases = value
	case "can_view_financials":
		p.CanViewFinancials = value
	case "can_manage_maintenance":
		p.CanManageMaintenance = value
	case "can_contact_tenants":
		p.CanContactTenants = value
	case "can_manage_documents":
		p.CanManageDocuments = value
	}
}

// Merge applies only the keys present in partial, leaving all others
// untouched. Keys must be validated by the caller beforehand.
func (p PermissionSet) Merge(partial map[string]bool) PermissionSet {
	out := p
	for key, value := range partial {
		out.set(key, value)
	}
	return out
}
