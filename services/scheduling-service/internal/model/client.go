package model

type Client struct {
	ID       string
	TenantID string
	Name     string
	Email    string
	Phone    string
}
