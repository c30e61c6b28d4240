package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hsync/entity"
)

// Memory is an in-process ledger with the same guarantees as MySql,
// used for local runs and tests
type Memory struct {
	mu         sync.RWMutex
	vouchers   map[int64]*entity.Voucher
	profiles   map[int64]*entity.Profile
	resellers  map[int64]*entity.Reseller
	orders     map[string]*entity.Order
	nextId     int64
	failInsert error
}

func NewMemory() *Memory {
	return &Memory{
		vouchers:  make(map[int64]*entity.Voucher),
		profiles:  make(map[int64]*entity.Profile),
		resellers: make(map[int64]*entity.Reseller),
		orders:    make(map[string]*entity.Order),
	}
}

// SetInsertError makes every following InsertVoucher fail with err; nil restores
func (m *Memory) SetInsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInsert = err
}

func (m *Memory) id() int64 {
	m.nextId++
	return m.nextId
}

func copyVoucher(v *entity.Voucher) *entity.Voucher {
	c := *v
	if v.UsedAt != nil {
		t := *v.UsedAt
		c.UsedAt = &t
	}
	return &c
}

func (m *Memory) InsertVoucher(_ context.Context, v *entity.Voucher, funding entity.Funding) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInsert != nil {
		return 0, m.failInsert
	}

	// validate every step before applying any of them
	var order *entity.Order
	if funding.OrderId != nil {
		order = m.orders[*funding.OrderId]
		if order == nil {
			return 0, entity.ErrNotFound
		}
		switch order.Status {
		case entity.OrderCompleted:
			return 0, entity.ErrDuplicateOrder
		case entity.OrderFailed:
			return 0, entity.ErrOrderNotPending
		}
	}
	var reseller *entity.Reseller
	if funding.ResellerId != nil {
		reseller = m.resellers[*funding.ResellerId]
		if reseller == nil {
			return 0, entity.ErrNotFound
		}
		if !reseller.Active {
			return 0, entity.ErrResellerInactive
		}
		if reseller.Balance < funding.Amount {
			return 0, entity.ErrInsufficientBalance
		}
	}
	for _, existing := range m.vouchers {
		if !existing.Used && existing.Code == v.Code {
			return 0, entity.ErrDuplicateCode
		}
		if v.OrderId != nil && existing.OrderId != nil && *existing.OrderId == *v.OrderId {
			return 0, entity.ErrDuplicateOrder
		}
	}

	if order != nil {
		at := v.CreatedAt
		order.Status = entity.OrderCompleted
		order.ProcessedAt = &at
		order.PaymentReference = funding.PaymentReference
	}
	if reseller != nil {
		reseller.Balance -= funding.Amount
	}
	v.Id = m.id()
	m.vouchers[v.Id] = copyVoucher(v)
	return v.Id, nil
}

func (m *Memory) GetVoucher(_ context.Context, id int64) (*entity.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vouchers[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return copyVoucher(v), nil
}

func (m *Memory) GetVoucherByCode(_ context.Context, code string) (*entity.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *entity.Voucher
	for _, v := range m.vouchers {
		if v.Code != code {
			continue
		}
		if found == nil || (found.Used && !v.Used) || (found.Used == v.Used && v.Id > found.Id) {
			found = v
		}
	}
	if found == nil {
		return nil, entity.ErrNotFound
	}
	return copyVoucher(found), nil
}

func (m *Memory) GetVoucherByOrder(_ context.Context, orderId string) (*entity.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vouchers {
		if v.OrderId != nil && *v.OrderId == orderId {
			return copyVoucher(v), nil
		}
	}
	return nil, entity.ErrNotFound
}

func (m *Memory) ActiveVouchers(_ context.Context, usedSince time.Time) ([]*entity.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.Voucher
	for _, v := range m.vouchers {
		if !v.Used || (v.UsedAt != nil && !v.UsedAt.Before(usedSince)) {
			result = append(result, copyVoucher(v))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id < result[j].Id })
	return result, nil
}

func (m *Memory) MarkUsed(_ context.Context, ids []int64, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, id := range ids {
		v, ok := m.vouchers[id]
		if !ok || v.Used {
			continue
		}
		t := at
		v.Used = true
		v.UsedAt = &t
		changed++
	}
	return changed, nil
}

func (m *Memory) DeleteVoucher(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vouchers[id]; !ok {
		return entity.ErrNotFound
	}
	delete(m.vouchers, id)
	return nil
}

func (m *Memory) CreateProfile(_ context.Context, p *entity.Profile) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.profiles {
		if existing.Name == p.Name {
			return 0, fmt.Errorf("profile %q exists", p.Name)
		}
	}
	p.Id = m.id()
	c := *p
	m.profiles[p.Id] = &c
	return p.Id, nil
}

func (m *Memory) UpdateProfile(_ context.Context, p *entity.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[p.Id]
	if !ok {
		return entity.ErrNotFound
	}
	c := *p
	c.Active = existing.Active
	m.profiles[p.Id] = &c
	return nil
}

func (m *Memory) SetProfileActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return entity.ErrNotFound
	}
	p.Active = active
	return nil
}

func (m *Memory) GetProfile(_ context.Context, id int64) (*entity.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *Memory) ListProfiles(_ context.Context, activeOnly bool) ([]*entity.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*entity.Profile
	for _, p := range m.profiles {
		if activeOnly && !p.Active {
			continue
		}
		c := *p
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id < result[j].Id })
	return result, nil
}

func (m *Memory) CreateReseller(_ context.Context, r *entity.Reseller) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Id = m.id()
	r.Active = true
	c := *r
	m.resellers[r.Id] = &c
	return r.Id, nil
}

func (m *Memory) GetReseller(_ context.Context, id int64) (*entity.Reseller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resellers[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *Memory) CreditReseller(_ context.Context, id, amount int64) (*entity.Reseller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resellers[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	r.Balance += amount
	c := *r
	return &c, nil
}

func (m *Memory) CreateOrder(_ context.Context, o *entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.OrderId]; ok {
		return fmt.Errorf("order %s exists", o.OrderId)
	}
	c := *o
	c.Customer.Country = o.Customer.CountryCode()
	m.orders[o.OrderId] = &c
	return nil
}

func (m *Memory) GetOrder(_ context.Context, orderId string) (*entity.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderId]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *Memory) SetCheckout(_ context.Context, orderId, url, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderId]
	if !ok {
		return entity.ErrNotFound
	}
	o.CheckoutUrl = url
	o.PaymentReference = reference
	return nil
}

func (m *Memory) FailOrder(_ context.Context, orderId, reference string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderId]
	if !ok {
		return entity.ErrNotFound
	}
	switch o.Status {
	case entity.OrderFailed:
		return nil
	case entity.OrderCompleted:
		return entity.ErrOrderNotPending
	}
	t := at
	o.Status = entity.OrderFailed
	o.ProcessedAt = &t
	o.PaymentReference = reference
	return nil
}
