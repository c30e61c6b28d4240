package reconcile

import (
	"time"

	"hsync/entity"
	"hsync/internal/gateway"
)

// Delta is the set of corrective actions for one pass
type Delta struct {
	// Create holds unused vouchers missing on the controller
	Create []*entity.Voucher
	// Replace holds unused vouchers whose code is taken on the controller
	// by a record written for another voucher
	Replace []*entity.Voucher
	// Delete holds codes to remove: used, newly used and expired vouchers
	Delete []string
	// MarkUsed holds vouchers with detected usage
	MarkUsed []int64
	// Expire holds unused vouchers past their expiry
	Expire []int64
	// Deferred holds codes kept on the controller while a session is open
	Deferred []string

	consumed map[string]bool
}

func (d *Delta) Empty() bool {
	return len(d.Create)+len(d.Replace)+len(d.Delete)+len(d.MarkUsed)+len(d.Expire) == 0
}

// Plan diffs the ledger view against the controller users and sessions.
// It does not touch either side.
func Plan(vouchers []*entity.Voucher, users []gateway.User, sessions []string, now time.Time, keepActiveSessions bool) *Delta {
	remote := make(map[string]gateway.User, len(users))
	for _, u := range users {
		remote[u.Name] = u
	}
	active := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		active[s] = true
	}
	unusedByCode := make(map[string]*entity.Voucher)
	for _, v := range vouchers {
		if !v.Used {
			unusedByCode[v.Code] = v
		}
	}

	d := &Delta{consumed: make(map[string]bool)}
	seen := make(map[string]bool)
	remove := func(code string, always bool) {
		if seen[code] {
			return
		}
		seen[code] = true
		if _, ok := remote[code]; !ok && !always {
			return
		}
		if keepActiveSessions && active[code] {
			d.Deferred = append(d.Deferred, code)
			return
		}
		d.Delete = append(d.Delete, code)
	}

	for _, v := range vouchers {
		u, present := remote[v.Code]

		if v.Used {
			// the code may already belong to a newer unused voucher
			if _, taken := unusedByCode[v.Code]; taken {
				continue
			}
			if present {
				remove(v.Code, false)
			}
			continue
		}

		owner, owned := u.VoucherId()
		foreign := present && owned && owner != v.Id

		switch {
		case !foreign && (active[v.Code] || (present && gateway.LooksConsumed(u))):
			d.MarkUsed = append(d.MarkUsed, v.Id)
			d.consumed[v.Code] = true
			remove(v.Code, false)
		case v.IsExpired(now):
			d.Expire = append(d.Expire, v.Id)
			if !foreign {
				remove(v.Code, true)
			}
		case foreign:
			d.Replace = append(d.Replace, v)
		case !present:
			d.Create = append(d.Create, v)
		}
	}
	return d
}
