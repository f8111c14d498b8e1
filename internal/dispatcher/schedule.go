package dispatcher

import "time"

// fixedRate is a cron.Schedule firing at first, first+period, first+2*period, ...
//
// Fire-times are anchored at registration rather than at the previous run,
// so a slow run never shifts later ones. Fire-times that were missed (for
// example after the host was suspended) are not replayed; Next always
// returns the first slot strictly after t.
type fixedRate struct {
	first  time.Time
	period time.Duration
}

func (s fixedRate) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	n := t.Sub(s.first)/s.period + 1
	return s.first.Add(n * s.period)
}
