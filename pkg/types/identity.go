package types

// IdentityMeta is the result of resolving a phone number to a CRM identity.
// Any field may be empty; Number is always set to the input number.
type IdentityMeta struct {
	Number      string `json:"number"`
	Name        string `json:"name"`
	ContactName string `json:"contact_name"`
	Company     string `json:"company"`
	AccountName string `json:"account_name"`
	ContactID   string `json:"contact_id"`
	AccountID   string `json:"account_id"`
	Title       string `json:"title"`
	City        string `json:"city"`
	State       string `json:"state"`
	Domain      string `json:"domain"`
	LogoURL     string `json:"logo_url"`

	IsCompanyPhone bool `json:"is_company_phone"`
}

// IsEmpty reports whether resolution produced no identity signal at all.
func (m IdentityMeta) IsEmpty() bool {
	return m.ContactID == "" && m.AccountID == "" && m.Name == "" && m.ContactName == "" && m.Company == "" && m.AccountName == ""
}

// FromContext builds an IdentityMeta from an existing call context. Used when
// a page-supplied context already carries identity and resolution short-circuits.
func FromContext(c CallContext) IdentityMeta {
	return IdentityMeta{
		Number:         c.Number,
		Name:           c.Name,
		ContactName:    c.ContactName,
		Company:        c.Company,
		AccountName:    c.AccountName,
		ContactID:      c.ContactID,
		AccountID:      c.AccountID,
		Title:          c.Title,
		City:           c.City,
		State:          c.State,
		Domain:         c.Domain,
		LogoURL:        c.LogoURL,
		IsCompanyPhone: c.IsCompanyPhone,
	}
}

// Person is a CRM contact record as served by the directory endpoint.
// Directory data stores numbers inconsistently (with or without country
// code), so matching always goes through comparison keys.
type Person struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`
	Email       string `json:"email"`
	AccountID   string `json:"account_id"`
	CompanyName string `json:"company_name"`
	City        string `json:"city"`
	State       string `json:"state"`

	Phone       string `json:"phone"`
	MobilePhone string `json:"mobile_phone"`
	DirectPhone string `json:"direct_phone"`
	OfficePhone string `json:"office_phone"`
}

// FullName returns the best display name for the person.
func (p Person) FullName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	return name
}

// PhoneFields returns every candidate phone field, empty entries included.
func (p Person) PhoneFields() []string {
	return []string{p.Phone, p.MobilePhone, p.DirectPhone, p.OfficePhone}
}

// Account is a CRM organization record as served by the directory endpoint.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	Website string `json:"website"`
	LogoURL string `json:"logo_url"`
	City    string `json:"city"`
	State   string `json:"state"`

	Phone     string `json:"phone"`
	MainPhone string `json:"main_phone"`
}

// PhoneFields returns every candidate phone field, empty entries included.
func (a Account) PhoneFields() []string {
	return []string{a.Phone, a.MainPhone}
}
