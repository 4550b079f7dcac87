package usecase

import "context"

type bearerTokenKey struct{}

// WithBearerToken attaches the caller's bearer credential so downstream calls can forward it.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

// BearerTokenFromContext returns the credential attached by WithBearerToken, if any.
func BearerTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey{}).(string)
	return token
}

type accountKey struct{}

// WithAuthenticatedAccount attaches the account named by the caller's credential.
func WithAuthenticatedAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AuthenticatedAccountFromContext returns the account attached by WithAuthenticatedAccount, if any.
func AuthenticatedAccountFromContext(ctx context.Context) string {
	account, _ := ctx.Value(accountKey{}).(string)
	return account
}
