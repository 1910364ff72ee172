package models

// Account — торговый аккаунт из accounts.yaml.
type Account struct {
	Name         string    `yaml:"name"`
	Enabled      bool      `yaml:"enabled"`
	ClientID     string    `yaml:"client_id"`
	ClientSecret string    `yaml:"client_secret"`
	Currency     string    `yaml:"currency"`
	Testnet      bool      `yaml:"testnet"`
	OptionSide   Direction `yaml:"option_direction"` // buy | sell
}
