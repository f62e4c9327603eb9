package server

// A SecretValidator decides whether the challenge secret presented with
// a bagging request is acceptable.
type SecretValidator interface {
	SecretValid(secret string) bool
}

// AnySecret accepts every secret, including none. It is the validator
// used when no secret is configured, so development setups work without
// one.
type AnySecret struct{}

func (AnySecret) SecretValid(string) bool { return true }

// StaticSecret requires every request to present the configured secret.
type StaticSecret struct {
	Secret string
}

func (v StaticSecret) SecretValid(secret string) bool {
	return secret == v.Secret
}

// NewValidator returns the validator for a configured secret. The empty
// string means no checking.
func NewValidator(secret string) SecretValidator {
	if secret == "" {
		return AnySecret{}
	}
	return StaticSecret{Secret: secret}
}
