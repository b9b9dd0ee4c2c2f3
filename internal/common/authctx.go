package common

import "context"

type ctxKey string

const (
	customerIDKey ctxKey = "auth/customer-id"
	emailKey      ctxKey = "auth/email"
)

// WithCustomerID stores the ERP customer identifier resolved from the bearer token.
func WithCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, customerIDKey, id)
}

// CustomerID extracts the ERP customer identifier from the context if present.
func CustomerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// WithCustomerEmail stores the customer's email address from the token.
func WithCustomerEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey, email)
}

// CustomerEmail returns the customer's email address if present.
func CustomerEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok && email != ""
}
