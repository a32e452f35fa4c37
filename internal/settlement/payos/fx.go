package payos

import (
	"github.com/creditrelay/creditrelay/internal/config"
	"github.com/creditrelay/creditrelay/internal/settlement"
)

func Provide(cfg config.Config) settlement.Backend {
	return New(
		cfg.Settlement.BaseURL,
		cfg.Settlement.ClientID,
		cfg.Settlement.APIKey,
		cfg.Settlement.ChecksumKey,
	)
}
