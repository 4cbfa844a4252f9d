package config

type ClientConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetUseDPoP() bool
}

type Client struct{}

var _ ClientConfig = Client{}

func (Client) GetIssuer() string {
	return GetEnv("CREDCTL_ISSUER", "")
}

func (Client) GetClientID() string {
	return GetEnv("CREDCTL_CLIENT_ID", "")
}

// GetClientSecret is empty for public clients.
func (Client) GetClientSecret() string {
	return GetEnv("CREDCTL_CLIENT_SECRET", "")
}

func (Client) GetScopes() []string {
	return GetEnvList("CREDCTL_SCOPES", []string{"openid", "profile", "offline_access"})
}

func (Client) GetUseDPoP() bool {
	return GetEnv("CREDCTL_DPOP", "false") == "true"
}
