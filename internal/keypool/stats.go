package keypool

import "time"

// CredentialStats is the per-credential observability snapshot.
type CredentialStats struct {
	ID        int    `json:"id"`
	UsedToday int64  `json:"usedToday"`
	Limit     int64  `json:"limit"`
	Requests  int64  `json:"requests"`
	Available bool   `json:"available"`
	Dead      bool   `json:"dead"`
	Revoked   bool   `json:"revoked"`
	LastError string `json:"lastError,omitempty"`
}

// Stats is the pool-level observability snapshot.
type Stats struct {
	Pool            string            `json:"pool"`
	Credentials     []CredentialStats `json:"credentials"`
	TotalDispatched int64             `json:"totalDispatched"`
	TotalFailed     int64             `json:"totalFailed"`
	NextReset       time.Time         `json:"nextReset"`
}

// Stats returns a consistent snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetIfDayRolled()

	s := Stats{
		Pool:            p.name,
		Credentials:     make([]CredentialStats, 0, len(p.creds)),
		TotalDispatched: p.totalDispatched,
		TotalFailed:     p.totalFailed,
		NextReset:       nextUTCMidnight(p.now()),
	}
	for _, cred := range p.creds {
		s.Credentials = append(s.Credentials, CredentialStats{
			ID:        cred.id,
			UsedToday: cred.used,
			Limit:     cred.limit,
			Requests:  cred.requests,
			Available: cred.available(),
			Dead:      cred.dead,
			Revoked:   cred.revoked,
			LastError: cred.lastError,
		})
	}
	return s
}
