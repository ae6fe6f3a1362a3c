package leasing

import "encoding/json"

// Company is a leasing company (tenant).
type Company struct {
	ID      json.Number `json:"id,omitempty"`
	Name    string      `json:"name"`
	Address string      `json:"address,omitempty"`
	Phone   string      `json:"phone,omitempty"`
	Email   string      `json:"email,omitempty"`
	Status  string      `json:"status,omitempty"`
}

// User is a backend user account.
type User struct {
	ID        json.Number `json:"id,omitempty"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone,omitempty"`
	Role      string      `json:"role,omitempty"`
	CompanyID json.Number `json:"company_id,omitempty"`
	Password  string      `json:"password,omitempty"`
}

// Product is an item available for lease.
type Product struct {
	ID        json.Number `json:"id,omitempty"`
	Name      string      `json:"name"`
	Model     string      `json:"model,omitempty"`
	Price     json.Number `json:"price,omitempty"`
	Stock     json.Number `json:"stock,omitempty"`
	CompanyID json.Number `json:"company_id,omitempty"`
	Image     string      `json:"product_image,omitempty"`
}

// LeaseAccount is a customer's lease of one product.
type LeaseAccount struct {
	ID                json.Number `json:"id,omitempty"`
	AccountNo         string      `json:"account_no,omitempty"`
	CustomerName      string      `json:"customer_name"`
	CustomerCNIC      string      `json:"customer_cnic,omitempty"`
	CustomerPhone     string      `json:"customer_phone,omitempty"`
	GuarantorName     string      `json:"guarantor_name,omitempty"`
	GuarantorCNIC     string      `json:"guarantor_cnic,omitempty"`
	ProductID         json.Number `json:"product_id,omitempty"`
	TotalPrice        json.Number `json:"total_price,omitempty"`
	AdvanceAmount     json.Number `json:"advance_amount,omitempty"`
	InstallmentCount  json.Number `json:"installment_count,omitempty"`
	InstallmentAmount json.Number `json:"installment_amount,omitempty"`
	Status            string      `json:"status,omitempty"`
	CompanyID         json.Number `json:"company_id,omitempty"`
}

// Installment is one scheduled payment of a lease account.
type Installment struct {
	ID             json.Number `json:"id,omitempty"`
	LeaseAccountID json.Number `json:"lease_account_id,omitempty"`
	Amount         json.Number `json:"amount,omitempty"`
	PaidAmount     json.Number `json:"paid_amount,omitempty"`
	DueDate        string      `json:"due_date,omitempty"`
	PaidAt         string      `json:"paid_at,omitempty"`
	Status         string      `json:"status,omitempty"`
}
