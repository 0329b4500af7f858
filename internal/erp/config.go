package erp

import (
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/ledger-cli/internal/config"
	"github.com/sells-group/ledger-cli/internal/resilience"
	"github.com/sells-group/ledger-cli/pkg/odoo"
)

// FromConfig builds a Poster with one Odoo client per configured company.
// Company credentials override the shared erp credentials; all clients share
// one rate limiter because they talk to the same server.
func FromConfig(cfg *config.Config, st PostingStore) (*Poster, error) {
	if cfg.ERP.URL == "" || cfg.ERP.Database == "" {
		return nil, eris.New("erp: erp.url and erp.database are required")
	}

	var limiter *rate.Limiter
	if rps := cfg.ERP.RateLimit; rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
	timeout := time.Duration(cfg.ERP.TimeoutSecs) * time.Second

	companies := make(map[string]Company, len(cfg.Companies))
	for id, cc := range cfg.Companies {
		creds := odoo.Credentials{
			URL:      cfg.ERP.URL,
			Database: cfg.ERP.Database,
			Username: cfg.ERP.Username,
			APIKey:   cfg.ERP.APIKey,
		}
		if cc.ERPUsername != "" {
			creds.Username = cc.ERPUsername
		}
		if cc.ERPAPIKey != "" {
			creds.APIKey = cc.ERPAPIKey
		}
		opts := []odoo.ClientOption{odoo.WithTimeout(timeout)}
		if limiter != nil {
			opts = append(opts, odoo.WithLimiter(limiter))
		}
		client, err := odoo.NewClient(creds, opts...)
		if err != nil {
			return nil, eris.Wrapf(err, "erp: company %s", id)
		}
		companies[id] = Company{
			Client:       client,
			ERPCompanyID: cc.ERPCompanyID,
			JournalCode:  cc.JournalCode,
			BaseCurrency: cc.BaseCurrency,
		}
	}

	return NewPoster(st, companies,
		WithRetry(resilience.FromConfig(cfg.ERP.Retry)),
		WithBreakers(resilience.NewBreakers(resilience.FromBreakerConfig(cfg.ERP.BreakerThreshold, cfg.ERP.BreakerResetSecs))),
	), nil
}
